package protocol

import (
	"encoding/binary"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/internal/checksum"
)

// Opcodes, per the bootloader host protocol (cybtldr_command.h).
const (
	CmdEnterBootloader         = 0x38
	CmdExitBootloader          = 0x3B
	CmdSetApplicationMetadata  = 0x4C
	CmdSetEncryptionIV         = 0x4D
	CmdSendData                = 0x37
	CmdSendDataNoResponse      = 0x47
	CmdProgramData             = 0x49
	CmdVerifyData              = 0x4A
	CmdEraseData               = 0x44
	CmdVerifyChecksum          = 0x31
	CmdSyncBootloader          = 0x35 // SUPPLEMENT: resync, see original_source cybtldr_command.h CMD_SYNC
)

// StatusSuccess is the device status byte meaning "command executed
// successfully"; any other status byte is lifted to a BootloaderError.
const StatusSuccess = 0x00

// EnterBootloaderResponse holds the parsed reply to CmdEnterBootloader.
type EnterBootloaderResponse struct {
	SiliconID      uint32
	SiliconRev     byte
	BootloaderVers [3]byte
}

// BuildEnterBootloader constructs the Enter-bootloader request. It must be
// the first command sent after the channel is opened.
func BuildEnterBootloader(productID uint32, kind checksum.Kind) ([]byte, error) {
	data := make([]byte, 6)
	binary.LittleEndian.PutUint32(data[0:4], productID)
	// data[4:6] is reserved, always 0x0000
	return Build(CmdEnterBootloader, data, kind)
}

// ParseEnterBootloaderResponse parses the 8-byte Enter-bootloader payload.
func ParseEnterBootloaderResponse(data []byte) (EnterBootloaderResponse, error) {
	if len(data) != 8 {
		return EnterBootloaderResponse{}, dfuerr.New(dfuerr.KindBadLength, "enter-bootloader response must be 8 bytes")
	}
	var resp EnterBootloaderResponse
	resp.SiliconID = binary.LittleEndian.Uint32(data[0:4])
	resp.SiliconRev = data[4]
	copy(resp.BootloaderVers[:], data[5:8])
	return resp, nil
}

// BuildExitBootloader constructs the Exit-bootloader request. It is always
// sent on clean teardown; the device reboots in response.
func BuildExitBootloader(kind checksum.Kind) ([]byte, error) {
	return Build(CmdExitBootloader, nil, kind)
}

// BuildSetApplicationMetadata constructs the SetApplicationMetadata
// request. The session controller sends it once after Enter for every
// .cyacd2 action, with start 0xFFFFFFFF and size 0 when the image has no
// data rows.
func BuildSetApplicationMetadata(appID byte, appStart, appSize uint32, kind checksum.Kind) ([]byte, error) {
	data := make([]byte, 9)
	data[0] = appID
	binary.LittleEndian.PutUint32(data[1:5], appStart)
	binary.LittleEndian.PutUint32(data[5:9], appSize)
	return Build(CmdSetApplicationMetadata, data, kind)
}

// BuildSetEncryptionIV constructs the SetEncryptionIV request. iv must be
// 0, 8, or 16 bytes.
func BuildSetEncryptionIV(iv []byte, kind checksum.Kind) ([]byte, error) {
	if len(iv) != 0 && len(iv) != 8 && len(iv) != 16 {
		return nil, dfuerr.New(dfuerr.KindBadLength, "encryption IV must be 0, 8, or 16 bytes")
	}
	return Build(CmdSetEncryptionIV, iv, kind)
}

// BuildSendData constructs a SendData request that stages data bytes in the
// device's buffer without committing them to flash.
func BuildSendData(data []byte, kind checksum.Kind) ([]byte, error) {
	return Build(CmdSendData, data, kind)
}

// BuildSendDataNoResponse constructs a SendDataNoResponse request; the
// device does not reply, so the caller must insert the mandated delay
// instead of waiting for a response frame.
func BuildSendDataNoResponse(data []byte, kind checksum.Kind) ([]byte, error) {
	return Build(CmdSendDataNoResponse, data, kind)
}

// BuildProgramData constructs a ProgramData request that commits staged
// plus tail data to flash at address.
func BuildProgramData(address uint32, rowCRC uint32, tail []byte, kind checksum.Kind) ([]byte, error) {
	data := make([]byte, 8+len(tail))
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], rowCRC)
	copy(data[8:], tail)
	return Build(CmdProgramData, data, kind)
}

// BuildVerifyData constructs a VerifyData request; layout matches
// ProgramData, but the device only checks flash against the given data.
func BuildVerifyData(address uint32, rowCRC uint32, tail []byte, kind checksum.Kind) ([]byte, error) {
	data := make([]byte, 8+len(tail))
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], rowCRC)
	copy(data[8:], tail)
	return Build(CmdVerifyData, data, kind)
}

// BuildEraseData constructs an EraseData request for one flash row.
func BuildEraseData(address uint32, kind checksum.Kind) ([]byte, error) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, address)
	return Build(CmdEraseData, data, kind)
}

// BuildVerifyChecksum constructs the final whole-application integrity
// check request.
func BuildVerifyChecksum(appID byte, kind checksum.Kind) ([]byte, error) {
	return Build(CmdVerifyChecksum, []byte{appID}, kind)
}

// ParseVerifyChecksumResponse parses the 1-byte valid/invalid payload.
func ParseVerifyChecksumResponse(data []byte) (bool, error) {
	if len(data) != 1 {
		return false, dfuerr.New(dfuerr.KindBadLength, "verify-checksum response must be 1 byte")
	}
	return data[0] != 0, nil
}

// BuildSyncBootloader constructs a Sync request (SUPPLEMENT), used to
// reset the bootloader to a clean state when the host and device appear
// desynchronized. Not part of the automatic program/verify/erase loop.
func BuildSyncBootloader(kind checksum.Kind) ([]byte, error) {
	return Build(CmdSyncBootloader, nil, kind)
}

// BuildCustom constructs a request frame for any opcode, for the literal
// commands of a .mtbdfu script (the CLI's --custom-command runs such a
// script).
func BuildCustom(cmd byte, data []byte, kind checksum.Kind) ([]byte, error) {
	return Build(cmd, data, kind)
}

// StatusError converts a non-success status byte into a BootloaderError
// tagged with the status. Returns nil for StatusSuccess.
func StatusError(status byte, context string) error {
	if status == StatusSuccess {
		return nil
	}
	return dfuerr.Bootloader(status, context)
}
