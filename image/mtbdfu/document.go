// Package mtbdfu parses and executes the declarative .mtbdfu JSON session
// script: a header plus either a flat list of commands or a list of
// sessions, each command optionally repeating, sourcing data from literal
// bytes or an Intel-HEX file, and grouping into stage-then-commit
// commandSets. See document.go for parsing, runner.go for execution.
package mtbdfu

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/internal/checksum"
)

// AppInfo is the decoded top-level APPInfo header.
type AppInfo struct {
	FileVersion        uint32
	ProductID          uint32
	PacketChecksumType checksum.Kind
}

// Repeat is a command's repetition count: either a fixed number of times or
// "EoF", meaning "until the bound Intel-HEX file is exhausted."
type Repeat struct {
	EoF   bool
	Count int
}

// Command is one node of a .mtbdfu script: either a single opcode
// invocation or, when CommandSet is non-empty, a stage-then-commit group
// that replays as a unit Repeat times.
type Command struct {
	CmdID          byte
	HasCmdID       bool
	DataLength     int
	HasDataLength  bool
	DataBytes      []byte
	DataFile       string
	FlashRowLength int
	StartOffset    int
	Repeat         Repeat
	OutFile        string
	OutCli         bool
	CommandSet     []Command
}

// Session is one element of a .mtbdfu "sessions" list.
type Session struct {
	Commands []Command
}

// Document is a fully parsed .mtbdfu script.
type Document struct {
	AppInfo  AppInfo
	Commands []Command
	Sessions []Session
}

type rawAppInfo struct {
	FileVersion        string `json:"File Version"`
	ProductID          string `json:"Product Id"`
	PacketChecksumType string `json:"Packet Checksum Type"`
}

type rawCommand struct {
	CmdID          string          `json:"cmdId"`
	DataLength     string          `json:"dataLength"`
	DataBytes      json.RawMessage `json:"dataBytes"`
	DataFile       string          `json:"dataFile"`
	FlashRowLength string          `json:"flashRowLength"`
	StartOffset    string          `json:"startOffset"`
	Repeat         json.RawMessage `json:"repeat"`
	OutFile        string          `json:"outFile"`
	OutCli         bool            `json:"outCli"`
	CommandSet     []rawCommand    `json:"commandSet"`
}

type rawSession struct {
	Commands []rawCommand `json:"commands"`
}

type rawDocument struct {
	AppInfo  rawAppInfo   `json:"APPInfo"`
	Commands []rawCommand `json:"commands"`
	Sessions []rawSession `json:"sessions"`
}

// Parse decodes a .mtbdfu JSON document, validating the required APPInfo
// fields and the "exactly one of commands or sessions" rule.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, dfuerr.Wrap(dfuerr.KindConfigError, "decoding mtbdfu json", err)
	}

	appInfo, err := convertAppInfo(raw.AppInfo)
	if err != nil {
		return nil, err
	}

	hasCommands := len(raw.Commands) > 0
	hasSessions := len(raw.Sessions) > 0
	if hasCommands == hasSessions {
		return nil, dfuerr.New(dfuerr.KindConfigError, "mtbdfu document must have exactly one of commands or sessions")
	}

	doc := &Document{AppInfo: appInfo}
	if hasCommands {
		cmds, err := convertCommands(raw.Commands)
		if err != nil {
			return nil, err
		}
		doc.Commands = cmds
	} else {
		for _, rs := range raw.Sessions {
			cmds, err := convertCommands(rs.Commands)
			if err != nil {
				return nil, err
			}
			doc.Sessions = append(doc.Sessions, Session{Commands: cmds})
		}
	}
	return doc, nil
}

func convertAppInfo(raw rawAppInfo) (AppInfo, error) {
	if raw.FileVersion == "" || raw.ProductID == "" || raw.PacketChecksumType == "" {
		return AppInfo{}, dfuerr.New(dfuerr.KindConfigError, "APPInfo requires File Version, Product Id, and Packet Checksum Type")
	}
	fv, err := parseHex(raw.FileVersion)
	if err != nil {
		return AppInfo{}, dfuerr.Wrap(dfuerr.KindConfigError, "APPInfo.File Version", err)
	}
	pid, err := parseHex(raw.ProductID)
	if err != nil {
		return AppInfo{}, dfuerr.Wrap(dfuerr.KindConfigError, "APPInfo.Product Id", err)
	}
	ct, err := parseHex(raw.PacketChecksumType)
	if err != nil {
		return AppInfo{}, dfuerr.Wrap(dfuerr.KindConfigError, "APPInfo.Packet Checksum Type", err)
	}
	var kind checksum.Kind
	switch ct {
	case 0:
		kind = checksum.SUM16
	case 1:
		kind = checksum.CRC16CCITT
	default:
		return AppInfo{}, dfuerr.New(dfuerr.KindConfigError, "APPInfo.Packet Checksum Type must be 0 or 1")
	}
	return AppInfo{FileVersion: uint32(fv), ProductID: uint32(pid), PacketChecksumType: kind}, nil
}

func convertCommands(raws []rawCommand) ([]Command, error) {
	cmds := make([]Command, 0, len(raws))
	for _, r := range raws {
		c, err := convertCommand(r)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	return cmds, nil
}

func convertCommand(raw rawCommand) (Command, error) {
	var c Command

	if raw.CmdID != "" {
		id, err := parseHex(raw.CmdID)
		if err != nil {
			return Command{}, dfuerr.Wrap(dfuerr.KindConfigError, "command cmdId", err)
		}
		c.CmdID = byte(id)
		c.HasCmdID = true
	} else if len(raw.CommandSet) == 0 {
		return Command{}, dfuerr.New(dfuerr.KindConfigError, "command missing cmdId")
	}

	if raw.DataLength != "" {
		n, err := parseHex(raw.DataLength)
		if err != nil {
			return Command{}, dfuerr.Wrap(dfuerr.KindConfigError, "command dataLength", err)
		}
		c.DataLength = int(n)
		c.HasDataLength = true
	}

	dataBytes, err := decodeDataBytes(raw.DataBytes)
	if err != nil {
		return Command{}, err
	}
	if c.HasDataLength && len(dataBytes) < c.DataLength {
		padded := make([]byte, c.DataLength)
		copy(padded[c.DataLength-len(dataBytes):], dataBytes)
		dataBytes = padded
	}
	c.DataBytes = dataBytes

	c.DataFile = raw.DataFile

	if raw.FlashRowLength != "" {
		n, err := parseHex(raw.FlashRowLength)
		if err != nil {
			return Command{}, dfuerr.Wrap(dfuerr.KindConfigError, "command flashRowLength", err)
		}
		c.FlashRowLength = int(n)
	}
	if raw.StartOffset != "" {
		n, err := parseHex(raw.StartOffset)
		if err != nil {
			return Command{}, dfuerr.Wrap(dfuerr.KindConfigError, "command startOffset", err)
		}
		c.StartOffset = int(n)
	}

	repeat, err := decodeRepeat(raw.Repeat)
	if err != nil {
		return Command{}, err
	}
	c.Repeat = repeat

	c.OutFile = raw.OutFile
	c.OutCli = raw.OutCli

	if len(raw.CommandSet) > 0 {
		set, err := convertCommands(raw.CommandSet)
		if err != nil {
			return Command{}, err
		}
		c.CommandSet = set
	}

	return c, nil
}

func decodeRepeat(raw json.RawMessage) (Repeat, error) {
	if len(raw) == 0 {
		return Repeat{Count: 1}, nil
	}
	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return Repeat{Count: int(asInt)}, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "EoF" {
			return Repeat{EoF: true}, nil
		}
		n, err := parseHex(asString)
		if err != nil {
			return Repeat{}, dfuerr.Wrap(dfuerr.KindConfigError, "command repeat", err)
		}
		return Repeat{Count: int(n)}, nil
	}
	return Repeat{}, dfuerr.New(dfuerr.KindConfigError, "command repeat must be an integer, a hex string, or \"EoF\"")
}

// decodeDataBytes accepts either a JSON array of hex byte strings
// (["0x01","0x02"]) or a single hex string ("0x0102").
func decodeDataBytes(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return decodeHexBlob(asString)
	}

	var asArray []string
	if err := json.Unmarshal(raw, &asArray); err == nil {
		out := make([]byte, 0, len(asArray))
		for _, tok := range asArray {
			v, err := parseHex(tok)
			if err != nil {
				return nil, dfuerr.Wrap(dfuerr.KindConfigError, "command dataBytes element", err)
			}
			out = append(out, byte(v))
		}
		return out, nil
	}

	return nil, dfuerr.New(dfuerr.KindConfigError, "command dataBytes must be a hex string or an array of hex bytes")
}

func decodeHexBlob(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		v, err := strconv.ParseUint(s[2*i:2*i+2], 16, 8)
		if err != nil {
			return nil, dfuerr.Wrap(dfuerr.KindConfigError, "decoding hex blob", err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, dfuerr.New(dfuerr.KindConfigError, "empty hex literal")
	}
	return strconv.ParseUint(s, 16, 64)
}
