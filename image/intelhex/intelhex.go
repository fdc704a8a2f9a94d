// Package intelhex decodes Intel-HEX records for the .mtbdfu session
// driver's dataFile source. Only the record types the driver cares about
// are interpreted (data, end-of-file, extended linear address); all other
// types are reported so the caller can skip them, matching §4.7's
// "skip other types" rule. This is a from-scratch reader rather than a
// vendored library: the driver needs per-record EOF and address-change
// events to drive its own row accumulator and its "EoF" repeat semantics,
// which a whole-file decode-to-buffer API would hide.
package intelhex

import (
	"bufio"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/cydfu/host/dfuerr"
)

// RecordType is the Intel-HEX record type byte.
type RecordType byte

const (
	RecordData                RecordType = 0x00
	RecordEOF                 RecordType = 0x01
	RecordExtendedSegmentAddr RecordType = 0x02
	RecordStartSegmentAddr    RecordType = 0x03
	RecordExtendedLinearAddr  RecordType = 0x04
	RecordStartLinearAddr     RecordType = 0x05
)

// Record is one decoded line of an Intel-HEX file.
type Record struct {
	Type    RecordType
	Address uint16 // record-local 16-bit address field
	Data    []byte
}

// Reader streams records from an Intel-HEX file, tracking the extended
// linear address base so callers can ask for each data record's full
// 32-bit address via LinearAddress.
type Reader struct {
	file    *os.File
	scanner *bufio.Scanner
	base    uint32 // current extended linear address, already shifted << 16
	eof     bool
}

// Open opens path for streaming.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dfuerr.Wrap(dfuerr.KindFileNotFound, "opening "+path, err)
	}
	return &Reader{file: f, scanner: bufio.NewScanner(f)}, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Next decodes the next record. After a RecordEOF record has been
// returned once, subsequent calls return io.EOF.
func (r *Reader) Next() (Record, error) {
	if r.eof {
		return Record{}, io.EOF
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		rec, err := decodeLine(line)
		if err != nil {
			return Record{}, err
		}
		if rec.Type == RecordExtendedLinearAddr {
			if len(rec.Data) != 2 {
				return Record{}, dfuerr.New(dfuerr.KindBadLength, "extended linear address record must carry 2 bytes")
			}
			r.base = (uint32(rec.Data[0])<<8 | uint32(rec.Data[1])) << 16
		}
		if rec.Type == RecordEOF {
			r.eof = true
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, dfuerr.Wrap(dfuerr.KindFileReadError, "reading intel-hex file", err)
	}
	r.eof = true
	return Record{}, io.EOF
}

// LinearAddress combines the current extended linear address base with a
// data record's 16-bit address field into the full 32-bit flash address.
func (r *Reader) LinearAddress(rec Record) uint32 {
	return r.base | uint32(rec.Address)
}

// decodeLine decodes one ":LLAAAATTDDDD...CC" line.
func decodeLine(line string) (Record, error) {
	if !strings.HasPrefix(line, ":") {
		return Record{}, dfuerr.New(dfuerr.KindBadData, "intel-hex line missing ':' marker")
	}
	raw, err := hex.DecodeString(line[1:])
	if err != nil {
		return Record{}, dfuerr.Wrap(dfuerr.KindBadData, "decoding intel-hex line", err)
	}
	if len(raw) < 5 {
		return Record{}, dfuerr.New(dfuerr.KindBadLength, "intel-hex line too short")
	}
	byteCount := int(raw[0])
	if len(raw) != 5+byteCount {
		return Record{}, dfuerr.New(dfuerr.KindBadLength, "intel-hex byte count mismatch")
	}
	address := uint16(raw[1])<<8 | uint16(raw[2])
	recType := RecordType(raw[3])
	data := raw[4 : 4+byteCount]

	var sum byte
	for _, b := range raw[:len(raw)-1] {
		sum += b
	}
	checksum := byte(0) - sum
	if checksum != raw[len(raw)-1] {
		return Record{}, dfuerr.New(dfuerr.KindBadChecksum, "intel-hex record checksum mismatch")
	}

	return Record{Type: recType, Address: address, Data: data}, nil
}
