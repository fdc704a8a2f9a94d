// Package i2cchan implements transport.Channel over a Linux i2c-dev node.
// The bootloader's I2C variant is half-duplex: the host writes a full frame,
// then polls the device with zero-length-prefixed reads until the first
// byte stops being 0xFF ("not ready yet"), at which point the rest of the
// frame follows in the same read. The layout and the ioctl plumbing mirror
// the device-file wrapper in the driver package this repository is built
// from, generalized from a single fixed ioctl set to the I2C_RDWR/I2C_SLAVE
// pair this protocol actually needs.
package i2cchan

import (
	"context"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/transport"
)

const (
	i2cSlave = 0x0703 // I2C_SLAVE
	i2cRDWR  = 0x0707 // I2C_RDWR

	i2cMRD = 0x0001 // I2C_M_RD

	notReadyByte = 0xFF
	packetStart  = 0x01
	packetEnd    = 0x17
	pollAttempts = 30
	pollInterval = 10 * time.Millisecond

	// maxTransferSize is conservative for smbus-backed i2c-dev adapters;
	// most bootloader images fit comfortably under this per-packet cap.
	maxTransferSize = 512
)

type i2cMsg struct {
	addr  uint16
	flags uint16
	len   uint16
	buf   uintptr
}

type i2cRdwrIoctlData struct {
	msgs uintptr
	nmsg uint32
}

// Channel talks the bootloader I2C protocol over a Linux /dev/i2c-N node.
type Channel struct {
	path     string
	settings transport.I2CSettings
	fd       int

	// packetStarted latches once the packet-start byte (0x01) has been
	// observed for the current response, so a caller that reads the frame in more than one
	// slice doesn't re-enter the busy-poll loop for the remaining bytes.
	packetStarted bool
}

// New returns an unopened Channel for the given i2c-dev node and settings.
func New(path string, settings transport.I2CSettings) *Channel {
	return &Channel{path: path, settings: settings, fd: -1}
}

// Open opens the device node and binds the bootloader's slave address.
func (c *Channel) Open(ctx context.Context) error {
	fd, err := unix.Open(c.path, unix.O_RDWR, 0)
	if err != nil {
		return errnoToDfuErr(err, "opening "+c.path)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), i2cSlave, uintptr(c.settings.Addr)); errno != 0 {
		unix.Close(fd)
		return errnoToDfuErr(errno, "binding i2c slave address")
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
		return dfuerr.Wrap(dfuerr.KindWriteFailed, "closing i2c channel", err)
	}
	return nil
}

// MaxTransferSize returns the largest single Read/Write this channel supports.
func (c *Channel) MaxTransferSize() uint32 {
	return maxTransferSize
}

// Write sends buf as a single i2c_rdwr write transaction.
func (c *Channel) Write(ctx context.Context, buf []byte) error {
	c.packetStarted = false
	if err := c.transfer(buf, false); err != nil {
		return dfuerr.Wrap(dfuerr.KindWriteFailed, "i2c write", err)
	}
	return nil
}

// Read fills buf following cychanneli2c.cpp's readData: some I2C bootloader
// components clock-stretch until data is ready, others pad with 0xFF, and
// there is no way to tell which a given device is ahead of time, so every
// read attempts the full transfer first. If that comes back already good
// (packetStarted is set mid-response, or the first byte isn't 0xFF), no
// further work is needed. If it's entirely 0xFF, the device falls back to
// single-byte polling until one good byte arrives. If only the front of it
// is 0xFF, the good tail is shifted to the start of buf and one more
// transfer fills in the rest. Once a response has started (a PACKET_START
// byte observed), later Read calls for the same response skip all of this
// and just transfer.
func (c *Channel) Read(ctx context.Context, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if err := c.transfer(buf, true); err != nil {
		return dfuerr.Wrap(dfuerr.KindReadFailed, "i2c read", err)
	}

	if c.packetStarted {
		if buf[len(buf)-1] == packetEnd {
			c.packetStarted = false
		}
		return nil
	}

	i := 0
	for ; i < len(buf); i++ {
		if buf[i] == packetStart {
			c.packetStarted = true
		}
		if buf[i] != notReadyByte {
			break
		}
	}
	if i == 0 {
		// The whole response arrived good in this one transfer.
		if buf[len(buf)-1] == packetEnd {
			c.packetStarted = false
		}
		return nil
	}

	var goodBytes int
	if i == len(buf) {
		// Entirely bad: fall back to reading one byte at a time until the
		// device has something other than 0xFF ready.
		ok, err := c.readFirstGoodByte(ctx, buf[:1])
		if err != nil {
			return err
		}
		if !ok {
			return dfuerr.New(dfuerr.KindTimeout, "i2c read: device never became ready")
		}
		goodBytes = 1
	} else {
		// Partially bad: shift the good tail to the front of buf.
		goodBytes = len(buf) - i
		copy(buf[:goodBytes], buf[i:])
	}

	if goodBytes < len(buf) {
		if err := c.transfer(buf[goodBytes:], true); err != nil {
			return dfuerr.Wrap(dfuerr.KindReadFailed, "i2c read", err)
		}
		if buf[len(buf)-1] == packetEnd {
			c.packetStarted = false
		}
	}
	return nil
}

// readFirstGoodByte polls single-byte transfers, mirroring
// cychanneli2c.cpp's readFirstGoodData, until one comes back other than
// 0xFF or pollAttempts is exceeded.
func (c *Channel) readFirstGoodByte(ctx context.Context, one []byte) (bool, error) {
	for attempt := 0; attempt < pollAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, dfuerr.Wrap(dfuerr.KindTimeout, "i2c read canceled", err)
		}
		if err := c.transfer(one, true); err != nil {
			return false, dfuerr.Wrap(dfuerr.KindReadFailed, "i2c read", err)
		}
		if one[0] != notReadyByte {
			if one[0] == packetStart {
				c.packetStarted = true
			}
			return true, nil
		}
		time.Sleep(pollInterval)
	}
	return false, nil
}

func (c *Channel) transfer(buf []byte, read bool) error {
	flags := uint16(0)
	if read {
		flags = i2cMRD
	}
	msg := i2cMsg{
		addr:  uint16(c.settings.Addr),
		flags: flags,
		len:   uint16(len(buf)),
		buf:   uintptr(unsafe.Pointer(&buf[0])),
	}
	data := i2cRdwrIoctlData{
		msgs: uintptr(unsafe.Pointer(&msg)),
		nmsg: 1,
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), i2cRDWR, uintptr(unsafe.Pointer(&data))); errno != 0 {
		return errnoToDfuErr(errno, "i2c_rdwr")
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
	case unix.ENXIO, unix.EREMOTEIO:
		return dfuerr.Wrap(dfuerr.KindWriteFailed, context, err)
	default:
		return dfuerr.Wrap(dfuerr.KindInternalError, context, err)
	}
}
