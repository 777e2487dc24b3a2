//go:build linux

// Package i2cdev exposes a Linux /dev/i2c-N adapter as a drivers.I2C bus
package i2cdev

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"tinygo.org/x/drivers"
)

// From linux/i2c-dev.h and linux/i2c.h
const (
	ioctlRdwr = 0x0707
	flagRead  = 0x0001
)

// i2cMsg mirrors struct i2c_msg
type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   unsafe.Pointer
}

// rdwrData mirrors struct i2c_rdwr_ioctl_data
type rdwrData struct {
	msgs  unsafe.Pointer
	nmsgs uint32
}

// Bus is an open adapter. Transactions are serialized.
type Bus struct {
	mu   sync.Mutex
	fd   int
	path string
}

var _ drivers.I2C = (*Bus)(nil)

// Open opens an adapter such as "/dev/i2c-1"
func Open(path string) (*Bus, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	return &Bus{fd: fd, path: path}, nil
}

// Tx writes w then reads r in one combined transaction with a repeated
// start. Either buffer may be empty.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	msgs := buildMessages(addr, w, r)
	if len(msgs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return errors.Errorf("%s: closed", b.path)
	}

	data := rdwrData{msgs: unsafe.Pointer(&msgs[0]), nmsgs: uint32(len(msgs))}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(b.fd), ioctlRdwr, uintptr(unsafe.Pointer(&data)))
	if errno != 0 {
		return errors.Wrapf(errno, "%s: transfer to 0x%02x", b.path, addr)
	}
	return nil
}

func buildMessages(addr uint16, w, r []byte) []i2cMsg {
	msgs := make([]i2cMsg, 0, 2)
	if len(w) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, len: uint16(len(w)), buf: unsafe.Pointer(&w[0])})
	}
	if len(r) > 0 {
		msgs = append(msgs, i2cMsg{addr: addr, flags: flagRead, len: uint16(len(r)), buf: unsafe.Pointer(&r[0])})
	}
	return msgs
}

// Close releases the adapter
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}
