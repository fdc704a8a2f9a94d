// Package checksum implements the three checksum primitives the bootloader
// protocol relies on: the packet-level 2's-complement sum and CCITT-style
// CRC-16 (selected per session from the firmware image header), and the
// per-row CRC-32C used inside Program/Verify commands.
package checksum

import "hash/crc32"

// Kind selects which 16-bit checksum a session uses for every packet.
type Kind int

const (
	SUM16 Kind = iota
	CRC16CCITT
)

// Sum16 computes (1 + ^sum(bytes)) mod 2^16, the "basic sum" checksum.
func Sum16(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return 1 + ^sum
}

// CRC16CCITTVariant computes the device's CRC-16 variant: polynomial
// 0x8408 (reflected), init 0xFFFF, bit-serial LSB-first over each byte,
// final complement, then byte-swapped before emission. The swap is not
// cosmetic — it is what the device's bootloader expects on the wire; see
// spec Design Notes / Open Questions.
func CRC16CCITTVariant(data []byte) uint16 {
	const poly = 0x8408
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
	}
	crc = ^crc
	return (crc >> 8) | (crc << 8)
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes CRC-32C (Castagnoli) over data, used only for the
// per-row data checksum carried inside Program/Verify commands.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// PacketChecksum dispatches to Sum16 or CRC16CCITTVariant based on kind.
func PacketChecksum(data []byte, kind Kind) uint16 {
	switch kind {
	case CRC16CCITT:
		return CRC16CCITTVariant(data)
	default:
		return Sum16(data)
	}
}
