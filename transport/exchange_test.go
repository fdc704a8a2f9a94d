//go:build unit

package transport

import (
	"context"
	"testing"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/internal/checksum"
	"github.com/cydfu/host/protocol"
)

func TestExchangeReturnsParsedResponse(t *testing.T) {
	ch := newFakeChannel(32)
	ch.queueSuccess(checksum.SUM16, []byte{0xAA, 0xBB})
	req, _ := protocol.BuildSendData([]byte{0x01}, checksum.SUM16)
	resp, err := Exchange(context.Background(), ch, checksum.SUM16, req, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 2 || resp.Data[0] != 0xAA {
		t.Errorf("unexpected response data: %v", resp.Data)
	}
	if len(ch.writes) != 1 {
		t.Fatalf("expected exactly 1 write, got %d", len(ch.writes))
	}
}

func TestExchangeSurfacesBootloaderStatus(t *testing.T) {
	ch := newFakeChannel(32)
	frame, _ := protocol.Build(0x0A, nil, checksum.SUM16) // status = flash row invalid
	ch.readBuf = append(ch.readBuf, frame...)
	req, _ := protocol.BuildEraseData(0x1000, checksum.SUM16)
	_, err := Exchange(context.Background(), ch, checksum.SUM16, req, 0)
	if err == nil {
		t.Fatal("expected a bootloader error")
	}
	e, ok := err.(*dfuerr.Error)
	if !ok || e.Kind != dfuerr.KindRowInvalid {
		t.Errorf("got %v, want KindRowInvalid", err)
	}
}

func TestExchangeNoResponseOnlyWrites(t *testing.T) {
	ch := newFakeChannel(32)
	req, _ := protocol.BuildSendDataNoResponse([]byte{0x01, 0x02}, checksum.SUM16)
	if err := ExchangeNoResponse(context.Background(), ch, req); err != nil {
		t.Fatal(err)
	}
	if len(ch.writes) != 1 {
		t.Fatalf("expected exactly 1 write, got %d", len(ch.writes))
	}
}

func TestExchangeVariableLearnsLengthFromPrefix(t *testing.T) {
	ch := newFakeChannel(255)
	ch.queueSuccess(checksum.SUM16, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	req, _ := protocol.BuildCustom(0x50, nil, checksum.SUM16)
	resp, err := ExchangeVariable(context.Background(), ch, checksum.SUM16, req)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 10 {
		t.Errorf("got %d data bytes, want 10", len(resp.Data))
	}
}
