//go:build unit

package transport

import (
	"context"

	"github.com/cydfu/host/internal/checksum"
	"github.com/cydfu/host/protocol"
)

// fakeChannel is an in-memory Channel that records every write and answers
// reads from a queued byte stream, for exercising the chunking and
// exchange logic without real hardware. Queued response frames are
// flattened into one stream so a caller that reads a frame in more than
// one call (as ExchangeVariable does) still sees a consistent byte
// sequence.
type fakeChannel struct {
	mtu      uint32
	writes   [][]byte
	readBuf  []byte
	fallback []byte
}

func newFakeChannel(mtu uint32) *fakeChannel {
	fallback, _ := protocol.Build(protocol.StatusSuccess, nil, checksum.SUM16)
	return &fakeChannel{mtu: mtu, fallback: fallback}
}

func (f *fakeChannel) queueSuccess(kind checksum.Kind, data []byte) {
	frame, _ := protocol.Build(protocol.StatusSuccess, data, kind)
	f.readBuf = append(f.readBuf, frame...)
}

func (f *fakeChannel) Open(ctx context.Context) error { return nil }
func (f *fakeChannel) Close() error                   { return nil }
func (f *fakeChannel) MaxTransferSize() uint32        { return f.mtu }

func (f *fakeChannel) Write(ctx context.Context, buf []byte) error {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeChannel) Read(ctx context.Context, buf []byte) error {
	if len(f.readBuf) < len(buf) {
		f.readBuf = append(f.readBuf, f.fallback...)
	}
	copy(buf, f.readBuf[:len(buf)])
	f.readBuf = f.readBuf[len(buf):]
	return nil
}
