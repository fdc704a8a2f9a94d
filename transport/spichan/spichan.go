// Package spichan implements transport.Channel over a Linux spidev node.
// SPI is full-duplex at the wire level but the bootloader's SPI variant
// layers a half-duplex protocol on top: every transfer clocks out a byte
// (usually the SPI_ATTEN idle value) and the device returns a start byte
// of 0x01 once its reply is ready, so the host polls single-byte transfers
// until it sees that start byte before clocking out the rest of the frame.
// Like the I2C channel, a packetStarted latch remembers that a response is
// already underway, so a caller that reads one frame across more than one
// Read call (transport.ExchangeVariable's prefix-then-remainder read) does
// not re-enter start-byte polling against a continuation that has none.
// The spi_ioc_transfer layout and the ioctl sequence to set speed/mode/bits
// follow the spidev wrapper found elsewhere in the pack; this package
// generalizes it to the bootloader's fixed settings + retained pointer
// transfer struct and the transport.Channel interface.
package spichan

import (
	"context"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/transport"
)

const (
	spiIOCWrMode32      = 0x40046b05
	spiIOCWrLSBFirst    = 0x40016b02
	spiIOCWrBitsPerWord = 0x40016b03
	spiIOCWrMaxSpeedHz  = 0x40046b04
	spiIOCMessage1      = 0x40206b00 // _IOW(k, 0, sizeof(spi_ioc_transfer)) for one transfer

	startByte    = 0x01
	endByte      = 0x17
	idleByte     = 0x00
	pollAttempts = 30
	pollInterval = 10 * time.Millisecond

	maxTransferSize = 512
)

// transferFunc performs one full-duplex SPI transfer, clocking tx out while
// filling rx with whatever comes back on MISO. A Channel's xfer field
// defaults to ioctlTransfer but can be swapped out in tests.
type transferFunc func(tx, rx []byte) error

type spiIOCTransfer struct {
	txBuf uint64
	rxBuf uint64

	length      uint32
	speedHz     uint32
	delayUsecs  uint16
	bitsPerWord uint8
	csChange    uint8
	txNbits     uint8
	rxNbits     uint8
	wordDelay   uint8
	pad         uint8
}

// Channel talks the bootloader SPI protocol over a Linux /dev/spidevB.C node.
type Channel struct {
	path     string
	settings transport.SPISettings
	fd       int
	xfer     transferFunc

	// packetStarted latches once the device has driven its start byte, so a
	// caller that reads one response across more than one Read call (like
	// transport.ExchangeVariable's prefix-then-remainder read) doesn't
	// re-enter start-byte polling against a continuation that has none.
	packetStarted bool
}

// New returns an unopened Channel for the given spidev node and settings.
func New(path string, settings transport.SPISettings) *Channel {
	c := &Channel{path: path, settings: settings, fd: -1}
	c.xfer = c.ioctlTransfer
	return c
}

// Open opens the device node and programs speed, mode, and bit order.
func (c *Channel) Open(ctx context.Context) error {
	fd, err := unix.Open(c.path, unix.O_RDWR, 0)
	if err != nil {
		return errnoToDfuErr(err, "opening "+c.path)
	}

	speed := c.settings.FreqHz
	if err := ioctlPtr(fd, spiIOCWrMaxSpeedHz, unsafe.Pointer(&speed)); err != nil {
		unix.Close(fd)
		return errnoToDfuErr(err, "setting spi speed")
	}

	bits := uint8(8)
	if err := ioctlPtr(fd, spiIOCWrBitsPerWord, unsafe.Pointer(&bits)); err != nil {
		unix.Close(fd)
		return errnoToDfuErr(err, "setting spi bits per word")
	}

	mode := uint32(c.settings.Mode)
	if err := ioctlPtr(fd, spiIOCWrMode32, unsafe.Pointer(&mode)); err != nil {
		unix.Close(fd)
		return errnoToDfuErr(err, "setting spi mode")
	}

	if c.settings.BitOrder == transport.LSBFirst {
		lsb := uint8(1)
		if err := ioctlPtr(fd, spiIOCWrLSBFirst, unsafe.Pointer(&lsb)); err != nil {
			unix.Close(fd)
			return errnoToDfuErr(err, "setting spi bit order")
		}
	}

	c.fd = fd
	c.packetStarted = false
	return nil
}

// Close closes the device node.
func (c *Channel) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	if err != nil {
		return dfuerr.Wrap(dfuerr.KindWriteFailed, "closing spi channel", err)
	}
	return nil
}

// MaxTransferSize returns the largest single Read/Write this channel supports.
func (c *Channel) MaxTransferSize() uint32 {
	return maxTransferSize
}

// Write clocks buf out over MOSI, discarding whatever comes back on MISO.
// The bootloader's SPI devices expect a brief settle delay before the host
// starts driving a new command.
func (c *Channel) Write(ctx context.Context, buf []byte) error {
	time.Sleep(time.Millisecond)
	c.packetStarted = false
	discard := make([]byte, len(buf))
	if err := c.xfer(buf, discard); err != nil {
		return dfuerr.Wrap(dfuerr.KindWriteFailed, "spi write", err)
	}
	return nil
}

// Read fills buf following cychannelspi.cpp's readData. SPI is full-duplex,
// so the host must keep clocking idle bytes out on MOSI while watching
// MISO for the device's start byte; until that's seen, bytes are polled one
// at a time (mirroring readFirstGoodData's single-byte probes) because the
// device may take an arbitrary number of idle clocks to have a reply ready.
// Once the start byte has been observed, packetStarted latches so a second
// Read for the same response (transport.ExchangeVariable's prefix-then-
// remainder split) clocks the rest out in one bulk transfer instead of
// re-polling against a continuation that carries no start byte of its own.
func (c *Channel) Read(ctx context.Context, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	if c.packetStarted {
		tx := make([]byte, len(buf))
		for i := range tx {
			tx[i] = idleByte
		}
		if err := c.xfer(tx, buf); err != nil {
			return dfuerr.Wrap(dfuerr.KindReadFailed, "spi read", err)
		}
		if buf[len(buf)-1] == endByte {
			c.packetStarted = false
		}
		return nil
	}

	probe := []byte{idleByte}
	reply := make([]byte, 1)
	found := false
	for attempt := 0; attempt < pollAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return dfuerr.Wrap(dfuerr.KindTimeout, "spi read canceled", err)
		}
		if err := c.xfer(probe, reply); err != nil {
			return dfuerr.Wrap(dfuerr.KindReadFailed, "spi read", err)
		}
		if reply[0] == startByte {
			found = true
			break
		}
		time.Sleep(pollInterval)
	}
	if !found {
		return dfuerr.New(dfuerr.KindTimeout, "spi read: device never signaled a start byte")
	}
	c.packetStarted = true

	buf[0] = startByte
	if len(buf) == 1 {
		if buf[0] == endByte {
			c.packetStarted = false
		}
		return nil
	}
	tx := make([]byte, len(buf)-1)
	for i := range tx {
		tx[i] = idleByte
	}
	if err := c.xfer(tx, buf[1:]); err != nil {
		return dfuerr.Wrap(dfuerr.KindReadFailed, "spi read", err)
	}
	if buf[len(buf)-1] == endByte {
		c.packetStarted = false
	}
	return nil
}

// ioctlTransfer is the hardware transferFunc: a single spidev full-duplex
// ioctl message, real only when a genuine file descriptor is open.
func (c *Channel) ioctlTransfer(tx, rx []byte) error {
	xfer := spiIOCTransfer{
		txBuf:       uint64(uintptr(unsafe.Pointer(&tx[0]))),
		rxBuf:       uint64(uintptr(unsafe.Pointer(&rx[0]))),
		length:      uint32(len(tx)),
		speedHz:     c.settings.FreqHz,
		bitsPerWord: 8,
	}
	return ioctlPtr(c.fd, spiIOCMessage1, unsafe.Pointer(&xfer))
}

func ioctlPtr(fd int, cmd uintptr, arg unsafe.Pointer) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, uintptr(arg)); errno != 0 {
		return errno
	}
	return nil
}

func errnoToDfuErr(err error, context string) error {
	errno, ok := err.(unix.Errno)
	if !ok {
		return dfuerr.Wrap(dfuerr.KindInternalError, context, err)
	}
	switch errno {
	case unix.ENOENT, unix.ENODEV:
		return dfuerr.Wrap(dfuerr.KindDeviceNotFound, context, err)
	case unix.EBUSY:
		return dfuerr.Wrap(dfuerr.KindDeviceInUse, context, err)
	case unix.EACCES, unix.EPERM:
		return dfuerr.Wrap(dfuerr.KindAccessDenied, context, err)
	case unix.ETIMEDOUT:
		return dfuerr.Wrap(dfuerr.KindTimeout, context, err)
	default:
		return dfuerr.Wrap(dfuerr.KindInternalError, context, err)
	}
}
