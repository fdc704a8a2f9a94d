package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/protocol"
)

// generateMtbdfuDoc mirrors the JSON shape image/mtbdfu/document.go parses:
// an APPInfo header followed by a single session that stages and commits an
// application image over a bound Intel-HEX data file, one row at a time.
type generateMtbdfuDoc struct {
	APPInfo  generateAppInfo   `json:"APPInfo"`
	Sessions []generateSession `json:"sessions"`
}

type generateAppInfo struct {
	FileVersion        string `json:"File Version"`
	ProductID          string `json:"Product Id"`
	PacketChecksumType string `json:"Packet Checksum Type"`
}

type generateSession struct {
	Commands []generateCommand `json:"commands"`
}

type generateCommand struct {
	CmdID          string            `json:"cmdId,omitempty"`
	DataBytes      string            `json:"dataBytes,omitempty"`
	DataFile       string            `json:"dataFile,omitempty"`
	FlashRowLength string            `json:"flashRowLength,omitempty"`
	Repeat         string            `json:"repeat,omitempty"`
	CommandSet     []generateCommand `json:"commandSet,omitempty"`
}

// generateMtbdfu writes a .mtbdfu script that programs the application span
// named by f's flags from f.mtbdfuDataFile, one flash row per commandSet
// replay bound to the Intel-HEX file via repeat "EoF" — the same shape
// runner.go's runCommandSetGroup executes.
func generateMtbdfu(f *flags) error {
	if f.mtbdfuDataFile == "" {
		return dfuerr.New(dfuerr.KindConfigError, "--generate-mtbdfu requires --mtbdfu-data-file")
	}

	metaBytes := make([]byte, 9)
	metaBytes[0] = f.applicationID
	putLE32(metaBytes[1:5], f.applicationStart)
	putLE32(metaBytes[5:9], f.applicationLen)

	doc := generateMtbdfuDoc{
		APPInfo: generateAppInfo{
			FileVersion:        hex32(f.fileVersion),
			ProductID:          hex32(f.productID),
			PacketChecksumType: hex8(f.checksumType),
		},
		Sessions: []generateSession{{
			Commands: []generateCommand{
				{
					CmdID:     hex8(protocol.CmdSetApplicationMetadata),
					DataBytes: hexBytes(metaBytes),
				},
				{
					FlashRowLength: "0x200",
					DataFile:       f.mtbdfuDataFile,
					Repeat:         "EoF",
					CommandSet: []generateCommand{
						{CmdID: hex8(protocol.CmdSendData), Repeat: "0x20"},
						{CmdID: hex8(protocol.CmdProgramData)},
					},
				},
			},
		}},
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return dfuerr.Wrap(dfuerr.KindInternalError, "marshaling generated mtbdfu document", err)
	}
	if err := os.WriteFile(f.generateMtbdfu, out, 0644); err != nil {
		return dfuerr.Wrap(dfuerr.KindFileReadError, "writing "+f.generateMtbdfu, err)
	}
	return nil
}

func putLE32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func hex8(v uint8) string   { return fmt.Sprintf("0x%02X", v) }
func hex32(v uint32) string { return fmt.Sprintf("0x%08X", v) }

func hexBytes(b []byte) string {
	s := ""
	for _, v := range b {
		s += fmt.Sprintf("%02X", v)
	}
	return "0x" + s
}
