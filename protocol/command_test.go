//go:build unit

package protocol

import (
	"testing"

	"github.com/cydfu/host/internal/checksum"
)

func TestEnterBootloaderResponseRoundTrip(t *testing.T) {
	req, err := BuildEnterBootloader(0x01020304, checksum.SUM16)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte{0x78, 0x56, 0x34, 0x12, 0x03, 0x01, 0x02, 0x03}
	resp, err := ParseEnterBootloaderResponse(payload)
	if err != nil {
		t.Fatal(err)
	}
	if resp.SiliconID != 0x12345678 {
		t.Errorf("SiliconID = 0x%08x, want 0x12345678", resp.SiliconID)
	}
	if resp.SiliconRev != 0x03 {
		t.Errorf("SiliconRev = 0x%02x, want 0x03", resp.SiliconRev)
	}
	if req == nil {
		t.Fatal("expected a non-nil request frame")
	}
	parsedReq, err := Parse(req, checksum.SUM16)
	if err != nil {
		t.Fatal(err)
	}
	if parsedReq.Status != CmdEnterBootloader || string(parsedReq.Data) != string([]byte{0x04, 0x03, 0x02, 0x01, 0x00, 0x00}) {
		t.Errorf("request = cmd 0x%02x data %v, want 0x38 [04 03 02 01 00 00]", parsedReq.Status, parsedReq.Data)
	}
}

func TestParseEnterBootloaderResponseRejectsBadLength(t *testing.T) {
	if _, err := ParseEnterBootloaderResponse([]byte{0x01}); err == nil {
		t.Fatal("expected an error for a short payload")
	}
}

func TestBuildSetEncryptionIVValidatesLength(t *testing.T) {
	for _, n := range []int{0, 8, 16} {
		if _, err := BuildSetEncryptionIV(make([]byte, n), checksum.SUM16); err != nil {
			t.Errorf("length %d: unexpected error %v", n, err)
		}
	}
	if _, err := BuildSetEncryptionIV(make([]byte, 12), checksum.SUM16); err == nil {
		t.Error("expected an error for a 12-byte IV")
	}
}

func TestBuildProgramDataLayout(t *testing.T) {
	req, err := BuildProgramData(0x00001000, 0xDEADBEEF, []byte{0x01, 0x02}, checksum.SUM16)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := Parse(req, checksum.SUM16)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 10 {
		t.Fatalf("data length = %d, want 10", len(resp.Data))
	}
}

func TestParseVerifyChecksumResponse(t *testing.T) {
	ok, err := ParseVerifyChecksumResponse([]byte{0x01})
	if err != nil || !ok {
		t.Errorf("got ok=%v err=%v, want true nil", ok, err)
	}
	ok, err = ParseVerifyChecksumResponse([]byte{0x00})
	if err != nil || ok {
		t.Errorf("got ok=%v err=%v, want false nil", ok, err)
	}
	if _, err := ParseVerifyChecksumResponse([]byte{}); err == nil {
		t.Error("expected an error for an empty payload")
	}
}

func TestStatusErrorSuccessIsNil(t *testing.T) {
	if err := StatusError(StatusSuccess, "ctx"); err != nil {
		t.Errorf("expected nil for StatusSuccess, got %v", err)
	}
	if err := StatusError(0x0A, "ctx"); err == nil {
		t.Error("expected a non-nil error for a non-success status")
	}
}
