//go:build unit

package mtbdfu

import (
	"testing"

	"github.com/cydfu/host/internal/checksum"
)

func TestParseFlatCommandsDocument(t *testing.T) {
	doc := []byte(`{
		"APPInfo": {
			"File Version": "0x01",
			"Product Id": "0x12345678",
			"Packet Checksum Type": "0x00"
		},
		"commands": [
			{"cmdId": "0x38", "dataBytes": "0x0102030405"},
			{"cmdId": "0x3B"}
		]
	}`)
	d, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	if d.AppInfo.ProductID != 0x12345678 || d.AppInfo.PacketChecksumType != checksum.SUM16 {
		t.Errorf("unexpected AppInfo: %+v", d.AppInfo)
	}
	if len(d.Commands) != 2 {
		t.Fatalf("got %d commands, want 2", len(d.Commands))
	}
	if d.Commands[0].CmdID != 0x38 || len(d.Commands[0].DataBytes) != 5 {
		t.Errorf("unexpected first command: %+v", d.Commands[0])
	}
}

func TestParseRejectsBothCommandsAndSessions(t *testing.T) {
	doc := []byte(`{
		"APPInfo": {"File Version": "0x01", "Product Id": "0x01", "Packet Checksum Type": "0x01"},
		"commands": [{"cmdId": "0x38"}],
		"sessions": [{"commands": [{"cmdId": "0x38"}]}]
	}`)
	if _, err := Parse(doc); err == nil {
		t.Fatal("expected an error when both commands and sessions are present")
	}
}

func TestParseRejectsNeitherCommandsNorSessions(t *testing.T) {
	doc := []byte(`{"APPInfo": {"File Version": "0x01", "Product Id": "0x01", "Packet Checksum Type": "0x00"}}`)
	if _, err := Parse(doc); err == nil {
		t.Fatal("expected an error when neither commands nor sessions are present")
	}
}

func TestParseSessionsDocument(t *testing.T) {
	doc := []byte(`{
		"APPInfo": {"File Version": "0x01", "Product Id": "0x01", "Packet Checksum Type": "0x01"},
		"sessions": [
			{"commands": [{"cmdId": "0x38"}]},
			{"commands": [{"cmdId": "0x3B"}]}
		]
	}`)
	d, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(d.Sessions))
	}
	if d.AppInfo.PacketChecksumType != checksum.CRC16CCITT {
		t.Errorf("expected CRC16CCITT, got %v", d.AppInfo.PacketChecksumType)
	}
}

func TestDecodeRepeatVariants(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantEoF   bool
		wantCount int
	}{
		{"absent", `{"cmdId":"0x01"}`, false, 1},
		{"integer", `{"cmdId":"0x01","repeat":5}`, false, 5},
		{"hex string", `{"cmdId":"0x01","repeat":"0x20"}`, false, 32},
		{"EoF literal", `{"cmdId":"0x01","repeat":"EoF"}`, true, 0},
	}
	for _, tt := range tests {
		doc := []byte(`{"APPInfo":{"File Version":"0x01","Product Id":"0x01","Packet Checksum Type":"0x00"},"commands":[` + tt.json + `]}`)
		d, err := Parse(doc)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		c := d.Commands[0]
		if c.Repeat.EoF != tt.wantEoF || c.Repeat.Count != tt.wantCount {
			t.Errorf("%s: got %+v, want EoF=%v Count=%d", tt.name, c.Repeat, tt.wantEoF, tt.wantCount)
		}
	}
}

func TestDecodeDataBytesArrayForm(t *testing.T) {
	doc := []byte(`{
		"APPInfo": {"File Version": "0x01", "Product Id": "0x01", "Packet Checksum Type": "0x00"},
		"commands": [{"cmdId": "0x01", "dataBytes": ["0x01", "0xFF", "0x00"]}]
	}`)
	d, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x01, 0xFF, 0x00}
	got := d.Commands[0].DataBytes
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("byte %d: got 0x%02x, want 0x%02x", i, got[i], want[i])
		}
	}
}

func TestConvertCommandRequiresCmdIDUnlessCommandSet(t *testing.T) {
	doc := []byte(`{
		"APPInfo": {"File Version": "0x01", "Product Id": "0x01", "Packet Checksum Type": "0x00"},
		"commands": [{"dataBytes": "0x01"}]
	}`)
	if _, err := Parse(doc); err == nil {
		t.Fatal("expected an error for a command with no cmdId and no commandSet")
	}
}

func TestNestedCommandSet(t *testing.T) {
	doc := []byte(`{
		"APPInfo": {"File Version": "0x01", "Product Id": "0x01", "Packet Checksum Type": "0x00"},
		"commands": [{
			"dataFile": "app.hex",
			"repeat": "EoF",
			"commandSet": [
				{"cmdId": "0x37", "repeat": "0x20"},
				{"cmdId": "0x49"}
			]
		}]
	}`)
	d, err := Parse(doc)
	if err != nil {
		t.Fatal(err)
	}
	top := d.Commands[0]
	if !top.Repeat.EoF || top.DataFile != "app.hex" {
		t.Fatalf("unexpected top command: %+v", top)
	}
	if len(top.CommandSet) != 2 {
		t.Fatalf("got %d sub-commands, want 2", len(top.CommandSet))
	}
	if top.CommandSet[0].Repeat.Count != 32 {
		t.Errorf("sub-command repeat = %d, want 32", top.CommandSet[0].Repeat.Count)
	}
}
