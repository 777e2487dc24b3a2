// Package serial opens the byte stream to the firmware
package serial

import (
	"io"
	"time"
)

// Port is a serial port. Tests substitute one end of a net.Pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not read and data written but not sent
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path, e.g. "/dev/ttyACM0" or "COM3"
	Device string

	// Baud rate. USB CDC ignores it.
	Baud int

	// ReadTimeout bounds a single Read; 0 blocks
	ReadTimeout time.Duration
}

// DefaultConfig returns the settings the firmware's USB console expects
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}
