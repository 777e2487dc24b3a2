package protocol

import "github.com/pkg/errors"

var (
	ErrInvalidVLQ     = errors.New("invalid VLQ encoding")
	ErrBufferTooSmall = errors.New("buffer too small for VLQ")
)

// vlqMaxBytes is the longest encoding of a 32-bit value
const vlqMaxBytes = 5

// EncodeVLQInt writes v most significant group first. Each group holds
// seven bits; a group is skipped when the remaining value fits the range
// that sign-extends from the next group's bit 6.
func EncodeVLQInt(output OutputBuffer, v int32) {
	var enc [vlqMaxBytes]byte
	n := 0
	if v < -(1<<26) || v >= 3<<26 {
		enc[n] = byte((v>>28)&0x7F) | 0x80
		n++
	}
	if v < -(1<<19) || v >= 3<<19 {
		enc[n] = byte((v>>21)&0x7F) | 0x80
		n++
	}
	if v < -(1<<12) || v >= 3<<12 {
		enc[n] = byte((v>>14)&0x7F) | 0x80
		n++
	}
	if v < -(1<<5) || v >= 3<<5 {
		enc[n] = byte((v>>7)&0x7F) | 0x80
		n++
	}
	enc[n] = byte(v & 0x7F)
	n++
	output.Output(enc[:n])
}

// EncodeVLQUint writes an unsigned value with the same encoding
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// DecodeVLQInt reads one value and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	buf := *data
	if len(buf) == 0 {
		return 0, ErrBufferTooSmall
	}

	c := uint32(buf[0])
	v := c & 0x7F
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}
	i := 1
	for c&0x80 != 0 {
		if i >= len(buf) {
			return 0, ErrBufferTooSmall
		}
		if i >= vlqMaxBytes {
			return 0, ErrInvalidVLQ
		}
		c = uint32(buf[i])
		v = v<<7 | c&0x7F
		i++
	}

	*data = buf[i:]
	return int32(v), nil
}

// DecodeVLQUint reads one unsigned value and advances data past it
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQ returns the encoding of v as a new slice
func EncodeVLQ(v int32) []byte {
	out := NewScratchOutput()
	EncodeVLQInt(out, v)
	return append([]byte(nil), out.Result()...)
}

// DecodeVLQ decodes without consuming and reports the bytes used
func DecodeVLQ(data []byte) (int32, int, error) {
	rest := data
	v, err := DecodeVLQInt(&rest)
	if err != nil {
		return 0, 0, err
	}
	return v, len(data) - len(rest), nil
}
