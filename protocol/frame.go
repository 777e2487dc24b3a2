package protocol

// Frame layout: len seq payload... crc_hi crc_lo 0x7E
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
)

type scanStatus uint8

const (
	scanNeedMore scanStatus = iota // Incomplete frame, wait for more bytes
	scanOK                         // A valid frame of the returned length
	scanBad                        // Corrupt header or trailer, resync
)

// scanFrame validates the frame at the start of data. checkDest rejects
// sequence bytes without the 0x10 destination bits early, before the
// whole frame has arrived.
func scanFrame(data []byte, checkDest bool) (int, scanStatus) {
	if len(data) < MessageLengthMin {
		return 0, scanNeedMore
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return 0, scanBad
	}
	if checkDest && data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return 0, scanBad
	}
	if len(data) < n {
		return 0, scanNeedMore
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return 0, scanBad
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return 0, scanBad
	}
	return n, scanOK
}

// framePayload returns the bytes between header and trailer of a scanned frame
func framePayload(frame []byte) []byte {
	return frame[MessageHeaderSize : len(frame)-MessageTrailerSize]
}

// nextSeq advances a sequence byte within 0x10-0x1F
func nextSeq(seq uint8) uint8 {
	return (seq+1)&MessageSeqMask | MessageDest
}

// skipToSync drops bytes up to and including the next sync byte. ok is
// false when no sync byte was found.
func skipToSync(data []byte) (rest []byte, ok bool) {
	for i, b := range data {
		if b == MessageValueSync {
			return data[i+1:], true
		}
	}
	return nil, false
}

// EncodeMessage builds a complete frame around payload
func EncodeMessage(seq uint8, payload []byte) ([]byte, error) {
	n := MessageHeaderSize + len(payload) + MessageTrailerSize
	if n > MessageLengthMax {
		return nil, ErrMessageTooLong
	}
	frame := make([]byte, 0, n)
	frame = append(frame, byte(n), seq)
	frame = append(frame, payload...)
	return appendTrailer(frame), nil
}
