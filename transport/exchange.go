package transport

import (
	"context"

	"github.com/cydfu/host/internal/checksum"
	"github.com/cydfu/host/protocol"
)

// Exchange writes req and reads back a response frame carrying exactly
// expectedDataLen payload bytes, parses it, and translates a non-success
// status byte into a BootloaderError. It is the single write/read/parse
// unit every command in the session controller and chunker issues against
// the channel; commands are never pipelined — the next one is not built
// until this call returns.
func Exchange(ctx context.Context, ch Channel, kind checksum.Kind, req []byte, expectedDataLen int) (protocol.Response, error) {
	if err := ch.Write(ctx, req); err != nil {
		return protocol.Response{}, err
	}

	frame := make([]byte, protocol.MinFrameSize+expectedDataLen)
	if err := ch.Read(ctx, frame); err != nil {
		return protocol.Response{}, err
	}

	resp, err := protocol.Parse(frame, kind)
	if err != nil {
		// The read may still carry a valid status byte even though the
		// full envelope failed strict validation (e.g. a short read that
		// nonetheless started with SOP and a recognizable status) — try
		// to surface the device's own error instead of a generic parse
		// failure.
		if status, ok := protocol.ParseStatusOnly(frame); ok && status != protocol.StatusSuccess {
			return protocol.Response{}, protocol.StatusError(status, "exchange")
		}
		return protocol.Response{}, err
	}
	if resp.Status != protocol.StatusSuccess {
		return resp, protocol.StatusError(resp.Status, "exchange")
	}
	return resp, nil
}

// ExchangeNoResponse writes req without reading any reply, for
// SendDataNoResponse-style commands. The caller is responsible for
// inserting the mandated post-write delay.
func ExchangeNoResponse(ctx context.Context, ch Channel, req []byte) error {
	return ch.Write(ctx, req)
}

// ExchangeVariable is like Exchange but for callers that don't know the
// response payload length up front (the .mtbdfu driver, which can send any
// opcode named in a script). It reads the 4-byte envelope prefix first to
// learn the declared length, then reads exactly that many data bytes plus
// the trailing checksum and EOP.
func ExchangeVariable(ctx context.Context, ch Channel, kind checksum.Kind, req []byte) (protocol.Response, error) {
	if err := ch.Write(ctx, req); err != nil {
		return protocol.Response{}, err
	}
	head := make([]byte, 4)
	if err := ch.Read(ctx, head); err != nil {
		return protocol.Response{}, err
	}
	length := int(head[2]) | int(head[3])<<8
	rest := make([]byte, length+3)
	if err := ch.Read(ctx, rest); err != nil {
		return protocol.Response{}, err
	}
	frame := append(head, rest...)

	resp, err := protocol.Parse(frame, kind)
	if err != nil {
		if status, ok := protocol.ParseStatusOnly(frame); ok && status != protocol.StatusSuccess {
			return protocol.Response{}, protocol.StatusError(status, "exchange")
		}
		return protocol.Response{}, err
	}
	if resp.Status != protocol.StatusSuccess {
		return resp, protocol.StatusError(resp.Status, "exchange")
	}
	return resp, nil
}
