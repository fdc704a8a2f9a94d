// Package uartchan implements transport.Channel over a UART using
// go.bug.st/serial. Unlike I2C and SPI, the UART variant is genuinely
// full-duplex and needs no start-byte or not-ready polling: the host just
// writes the frame and reads the reply, both bounded by a hard deadline
// since a UART has no way to signal "nothing more is coming".
package uartchan

import (
	"context"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/transport"
)

const (
	ioDeadline  = 5 * time.Second
	pollSlice   = 10 * time.Millisecond
	maxTransfer = 4096
)

// Channel talks the bootloader UART protocol over a serial port.
type Channel struct {
	path     string
	settings transport.UARTSettings
	port     serial.Port
}

// New returns an unopened Channel for the given serial port path and settings.
func New(path string, settings transport.UARTSettings) *Channel {
	return &Channel{path: path, settings: settings}
}

// Open opens the serial port with the configured baud rate, data bits,
// parity, and stop bits.
func (c *Channel) Open(ctx context.Context) error {
	mode := &serial.Mode{
		BaudRate: int(c.settings.Baud),
		DataBits: c.settings.DataBits,
		Parity:   toSerialParity(c.settings.Parity),
		StopBits: toSerialStopBits(c.settings.StopBits),
	}
	port, err := serial.Open(c.path, mode)
	if err != nil {
		return dfuerr.Wrap(dfuerr.KindDeviceNotFound, "opening "+c.path, err)
	}
	if err := port.SetReadTimeout(pollSlice); err != nil {
		port.Close()
		return dfuerr.Wrap(dfuerr.KindConfigError, "setting uart read timeout", err)
	}
	c.port = port
	return nil
}

// Close closes the serial port.
func (c *Channel) Close() error {
	if c.port == nil {
		return nil
	}
	err := c.port.Close()
	c.port = nil
	if err != nil {
		return dfuerr.Wrap(dfuerr.KindWriteFailed, "closing uart channel", err)
	}
	return nil
}

// MaxTransferSize returns the largest single Read/Write this channel supports.
func (c *Channel) MaxTransferSize() uint32 {
	return maxTransfer
}

// Write sends buf in full, bounded by a 5s overall deadline.
func (c *Channel) Write(ctx context.Context, buf []byte) error {
	deadline := time.Now().Add(ioDeadline)
	written := 0
	for written < len(buf) {
		if time.Now().After(deadline) {
			return dfuerr.New(dfuerr.KindTimeout, "uart write timed out")
		}
		if err := ctx.Err(); err != nil {
			return dfuerr.Wrap(dfuerr.KindTimeout, "uart write canceled", err)
		}
		n, err := c.port.Write(buf[written:])
		if err != nil {
			return dfuerr.Wrap(dfuerr.KindWriteFailed, "uart write", err)
		}
		written += n
	}
	return nil
}

// Read fills buf in full, accumulating across the port's short read-timeout
// slices until either buf is full or the overall 5s deadline expires.
func (c *Channel) Read(ctx context.Context, buf []byte) error {
	deadline := time.Now().Add(ioDeadline)
	read := 0
	for read < len(buf) {
		if time.Now().After(deadline) {
			return dfuerr.New(dfuerr.KindTimeout, "uart read timed out")
		}
		if err := ctx.Err(); err != nil {
			return dfuerr.Wrap(dfuerr.KindTimeout, "uart read canceled", err)
		}
		n, err := c.port.Read(buf[read:])
		if err != nil && err != io.EOF {
			return dfuerr.Wrap(dfuerr.KindReadFailed, "uart read", err)
		}
		read += n
	}
	return nil
}

func toSerialParity(p transport.Parity) serial.Parity {
	switch p {
	case transport.ParityOdd:
		return serial.OddParity
	case transport.ParityEven:
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func toSerialStopBits(s transport.StopBits) serial.StopBits {
	switch s {
	case transport.StopBits1Half:
		return serial.OnePointFiveStopBits
	case transport.StopBits2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}
