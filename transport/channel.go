// Package transport defines the byte-channel capability the session
// controller drives, its three interface-specific implementations (I2C,
// SPI, UART), and the chunking transport that turns one logical flash row
// into the sequence of framed packets the link's MTU allows.
package transport

import "context"

// Channel is the capability the session controller consumes: open/close a
// physical link and exchange exactly n bytes at a time. Implementations
// translate every transport-level failure into the dfuerr taxonomy.
type Channel interface {
	Open(ctx context.Context) error
	Close() error
	// Read fills buf with exactly len(buf) bytes or returns an error.
	Read(ctx context.Context, buf []byte) error
	// Write sends exactly len(buf) bytes or returns an error.
	Write(ctx context.Context, buf []byte) error
	// MaxTransferSize returns the largest number of bytes a single
	// Read/Write call will carry.
	MaxTransferSize() uint32
}

// I2CSettings configures the I2C adapter.
type I2CSettings struct {
	FreqHz uint32
	Addr   uint8 // 7-bit address, in [8, 120]
}

// SPIMode selects clock polarity/phase, matching Linux's SPI_MODE_0..3.
type SPIMode uint8

const (
	SPIMode0 SPIMode = 0
	SPIMode1 SPIMode = 1
	SPIMode2 SPIMode = 2
	SPIMode3 SPIMode = 3
)

// BitOrder selects MSB-first or LSB-first bit shifting on SPI.
type BitOrder int

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

// SPISettings configures the SPI adapter.
type SPISettings struct {
	FreqHz   uint32
	Mode     SPIMode
	BitOrder BitOrder
}

// Parity selects UART parity.
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// StopBits selects the number of UART stop bits (1, 1.5, or 2).
type StopBits int

const (
	StopBits1 StopBits = iota
	StopBits1Half
	StopBits2
)

// UARTSettings configures the UART adapter.
type UARTSettings struct {
	Baud     uint32
	DataBits int // 7 or 8
	Parity   Parity
	StopBits StopBits
}
