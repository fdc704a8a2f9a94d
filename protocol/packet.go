// Package protocol implements the bootloader host packet codec (the framed
// envelope and its checksum) and the command catalogue: typed constructors
// for every request the session controller issues, and parsers for every
// response the device returns.
package protocol

import (
	"encoding/binary"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/internal/checksum"
)

// Frame markers and sizing, per the Infineon/Cypress bootloader host
// protocol (cybtldr_command.h: CMD_START, CMD_STOP, BASE_CMD_SIZE).
const (
	StartOfPacket = 0x01
	EndOfPacket   = 0x17

	// MinFrameSize is SOP(1) + CMD/STATUS(1) + LEN(2) + CSUM(2) + EOP(1).
	MinFrameSize = 7

	// headerLen is the number of leading bytes (SOP+CMD+LEN) that precede
	// the data field and feed into the checksum along with it.
	headerLen = 4
)

// Build lays out a complete request frame: SOP, cmd, little-endian length,
// data, little-endian checksum over SOP..last-data-byte, EOP.
func Build(cmd byte, data []byte, kind checksum.Kind) ([]byte, error) {
	if len(data) > 0xFFFF {
		return nil, dfuerr.New(dfuerr.KindBadData, "packet data exceeds 65535 bytes")
	}

	frame := make([]byte, headerLen+len(data)+3)
	frame[0] = StartOfPacket
	frame[1] = cmd
	binary.LittleEndian.PutUint16(frame[2:4], uint16(len(data)))
	copy(frame[headerLen:], data)

	csum := checksum.PacketChecksum(frame[:headerLen+len(data)], kind)
	binary.LittleEndian.PutUint16(frame[headerLen+len(data):], csum)
	frame[len(frame)-1] = EndOfPacket

	return frame, nil
}

// Response is the parsed result of a device reply: the status byte
// (bootloader success/error code) and the payload between LEN and CSUM.
type Response struct {
	Status byte
	Data   []byte
}

// Parse validates envelope framing and checksum, then returns the status
// byte and payload. Any envelope violation is dfuerr.KindBadFrame; a
// checksum mismatch is dfuerr.KindBadChecksum.
func Parse(frame []byte, kind checksum.Kind) (Response, error) {
	if len(frame) < MinFrameSize {
		return Response{}, dfuerr.New(dfuerr.KindBadFrame, "frame shorter than minimum size")
	}
	if frame[0] != StartOfPacket {
		return Response{}, dfuerr.New(dfuerr.KindBadFrame, "missing start-of-packet marker")
	}
	if frame[len(frame)-1] != EndOfPacket {
		return Response{}, dfuerr.New(dfuerr.KindBadFrame, "missing end-of-packet marker")
	}

	declaredLen := int(binary.LittleEndian.Uint16(frame[2:4]))
	if declaredLen != len(frame)-MinFrameSize {
		return Response{}, dfuerr.New(dfuerr.KindBadFrame, "declared length does not match frame size")
	}

	data := frame[headerLen : headerLen+declaredLen]
	csumOffset := headerLen + declaredLen
	want := binary.LittleEndian.Uint16(frame[csumOffset : csumOffset+2])
	got := checksum.PacketChecksum(frame[:csumOffset], kind)
	if want != got {
		return Response{}, dfuerr.New(dfuerr.KindBadChecksum, "packet checksum mismatch")
	}

	return Response{Status: frame[1], Data: data}, nil
}

// ParseStatusOnly is a best-effort status extractor used when a
// send/receive cycle returned bytes that might still be a valid error
// packet — it validates just enough of the envelope to read the status
// byte, so the upstream error can be reported instead of a generic I/O
// failure.
func ParseStatusOnly(frame []byte) (byte, bool) {
	if len(frame) < 2 || frame[0] != StartOfPacket {
		return 0, false
	}
	return frame[1], true
}
