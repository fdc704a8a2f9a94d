//go:build unit

package spichan

import (
	"context"
	"testing"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/transport"
)

// fakeWire is a swapped-in transferFunc double: it models a MISO byte
// stream as a flat queue. Each transfer shifts len(rx) bytes off the front,
// padding with idleByte once the queue is exhausted (mirroring a device
// that's still clocking out 0x00 idle bytes with nothing queued yet).
type fakeWire struct {
	stream    []byte
	transfers int
}

func (w *fakeWire) transfer(tx, rx []byte) error {
	w.transfers++
	for i := range rx {
		if len(w.stream) == 0 {
			rx[i] = idleByte
			continue
		}
		rx[i] = w.stream[0]
		w.stream = w.stream[1:]
	}
	return nil
}

func newTestChannel(wire *fakeWire) *Channel {
	c := New("/dev/spidev0.0", transport.SPISettings{FreqHz: 1_000_000, Mode: 0})
	c.xfer = wire.transfer
	return c
}

func TestReadPollsSingleBytesUntilStartByte(t *testing.T) {
	// Two idle 0x00 bytes precede the real frame.
	wire := &fakeWire{stream: []byte{0x00, 0x00, startByte, 0xAA, 0xBB, endByte}}
	c := newTestChannel(wire)

	buf := make([]byte, 4)
	if err := c.Read(context.Background(), buf); err != nil {
		t.Fatal(err)
	}
	if buf[0] != startByte || buf[1] != 0xAA || buf[2] != 0xBB || buf[3] != endByte {
		t.Errorf("got %v, want [start 0xAA 0xBB end]", buf)
	}
	if c.packetStarted {
		t.Error("packetStarted should have reset after reading the end byte")
	}
	// 2 single-byte probes that missed, 1 that hit, then one bulk transfer.
	if wire.transfers != 4 {
		t.Errorf("got %d transfers, want 4", wire.transfers)
	}
}

func TestReadSecondCallDoesNotRepollOnceStarted(t *testing.T) {
	// Models transport.ExchangeVariable: a 4-byte prefix read followed by a
	// remainder read, both against the same response and with no second
	// start byte anywhere in the stream.
	wire := &fakeWire{stream: []byte{startByte, 0x11, 0x22, 0x33, 0x44, 0x55, endByte}}
	c := newTestChannel(wire)

	prefix := make([]byte, 4)
	if err := c.Read(context.Background(), prefix); err != nil {
		t.Fatal(err)
	}
	if !c.packetStarted {
		t.Fatal("packetStarted should still be set: no end byte seen yet")
	}

	remainder := make([]byte, 3)
	if err := c.Read(context.Background(), remainder); err != nil {
		t.Fatal(err)
	}
	if remainder[0] != 0x44 || remainder[1] != 0x55 || remainder[2] != endByte {
		t.Errorf("got %v, want [0x44 0x55 end]", remainder)
	}
	if c.packetStarted {
		t.Error("packetStarted should have reset after the end byte")
	}
}

func TestReadTimesOutWhenStartByteNeverArrives(t *testing.T) {
	wire := &fakeWire{}
	c := newTestChannel(wire)

	err := c.Read(context.Background(), make([]byte, 2))
	e, ok := err.(*dfuerr.Error)
	if !ok || e.Kind != dfuerr.KindTimeout {
		t.Fatalf("got %v, want KindTimeout", err)
	}
	if wire.transfers != pollAttempts {
		t.Errorf("got %d poll transfers, want %d", wire.transfers, pollAttempts)
	}
}

func TestWriteResetsPacketStarted(t *testing.T) {
	wire := &fakeWire{stream: []byte{startByte, 0xAA}}
	c := newTestChannel(wire)

	if err := c.Read(context.Background(), make([]byte, 1)); err != nil {
		t.Fatal(err)
	}
	if !c.packetStarted {
		t.Fatal("packetStarted should be set after seeing the start byte")
	}

	if err := c.Write(context.Background(), []byte{0x01, 0x02}); err != nil {
		t.Fatal(err)
	}
	if c.packetStarted {
		t.Error("Write should reset packetStarted")
	}
}
