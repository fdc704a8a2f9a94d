package transport

import (
	"context"

	"github.com/cydfu/host/internal/checksum"
	"github.com/cydfu/host/protocol"
)

// RowAction selects which terminating command commits a chunked row.
type RowAction int

const (
	ActionProgram RowAction = iota
	ActionVerify
)

// Fixed command-header sizes used to derive how much of the MTU is left
// for data, per the chunking algorithm in the specification.
const (
	programVerifyHeaderSize = 15 // 7 envelope + 4 address + 4 crc
	sendDataHeaderSize      = 7  // envelope only
)

// SendRow ships one logical row across the channel: zero or more SendData
// packets followed by a terminating Program or Verify command, respecting
// mtu. When the whole row fits within one Program/Verify packet, no
// SendData packets are sent at all.
func SendRow(ctx context.Context, ch Channel, kind checksum.Kind, mtu uint32, address uint32, rowData []byte, action RowAction) error {
	rowCRC := checksum.CRC32C(rowData)

	remaining := len(rowData)
	offset := 0
	tailBudget := int(mtu) - programVerifyHeaderSize
	chunkBudget := int(mtu) - sendDataHeaderSize

	for remaining > tailBudget {
		n := chunkBudget
		if remaining < n {
			n = remaining
		}
		req, err := protocol.BuildSendData(rowData[offset:offset+n], kind)
		if err != nil {
			return err
		}
		if _, err := Exchange(ctx, ch, kind, req, 0); err != nil {
			return err
		}
		offset += n
		remaining -= n
	}

	tail := rowData[offset:]
	var req []byte
	var err error
	switch action {
	case ActionVerify:
		req, err = protocol.BuildVerifyData(address, rowCRC, tail, kind)
	default:
		req, err = protocol.BuildProgramData(address, rowCRC, tail, kind)
	}
	if err != nil {
		return err
	}
	_, err = Exchange(ctx, ch, kind, req, 0)
	return err
}
