// Package config translates the CLI's channel flag groups (§6 of the
// external interfaces) into the concrete transport.Channel each one opens.
// Exactly one group — I2C, SPI, or UART — is expected per invocation; the
// CLI layer enforces that and hands this package only the group it picked.
package config

import (
	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/transport"
	"github.com/cydfu/host/transport/i2cchan"
	"github.com/cydfu/host/transport/spichan"
	"github.com/cydfu/host/transport/uartchan"
)

// I2CFlags mirrors --i2c-address and --i2c-speed.
type I2CFlags struct {
	Address  uint8
	SpeedKHz uint32
}

// SPIFlags mirrors --spi-clockspeed, --spi-mode, and --spi-lsb-first.
type SPIFlags struct {
	ClockMHz uint32
	Mode     uint8 // 0..3
	LSBFirst bool
}

// UARTFlags mirrors --uart-baudrate, --uart-databits, --uart-paritytype,
// and --uart-stopbits.
type UARTFlags struct {
	BaudRate   uint32
	DataBits   int
	ParityType string // "None", "Odd", "Even"
	StopBits   string // "1", "1.5", "2"
}

// BuildI2C resolves an I2C channel on the given i2c-dev node path.
func BuildI2C(path string, f I2CFlags) (transport.Channel, error) {
	if f.Address < 8 || f.Address > 120 {
		return nil, dfuerr.New(dfuerr.KindConfigError, "i2c address must be in [8, 120]")
	}
	return i2cchan.New(path, transport.I2CSettings{
		FreqHz: f.SpeedKHz * 1000,
		Addr:   f.Address,
	}), nil
}

// BuildSPI resolves a SPI channel on the given spidev node path.
func BuildSPI(path string, f SPIFlags) (transport.Channel, error) {
	if f.Mode > 3 {
		return nil, dfuerr.New(dfuerr.KindConfigError, "spi mode must be 0..3")
	}
	order := transport.MSBFirst
	if f.LSBFirst {
		order = transport.LSBFirst
	}
	return spichan.New(path, transport.SPISettings{
		FreqHz:   f.ClockMHz * 1_000_000,
		Mode:     transport.SPIMode(f.Mode),
		BitOrder: order,
	}), nil
}

// BuildUART resolves a UART channel on the given serial port path.
func BuildUART(path string, f UARTFlags) (transport.Channel, error) {
	if f.DataBits != 7 && f.DataBits != 8 {
		return nil, dfuerr.New(dfuerr.KindConfigError, "uart data bits must be 7 or 8")
	}
	parity, err := parseParity(f.ParityType)
	if err != nil {
		return nil, err
	}
	stop, err := parseStopBits(f.StopBits)
	if err != nil {
		return nil, err
	}
	return uartchan.New(path, transport.UARTSettings{
		Baud:     f.BaudRate,
		DataBits: f.DataBits,
		Parity:   parity,
		StopBits: stop,
	}), nil
}

func parseParity(s string) (transport.Parity, error) {
	switch s {
	case "", "None":
		return transport.ParityNone, nil
	case "Odd":
		return transport.ParityOdd, nil
	case "Even":
		return transport.ParityEven, nil
	default:
		return 0, dfuerr.New(dfuerr.KindConfigError, "uart parity must be None, Odd, or Even")
	}
}

func parseStopBits(s string) (transport.StopBits, error) {
	switch s {
	case "", "1":
		return transport.StopBits1, nil
	case "1.5":
		return transport.StopBits1Half, nil
	case "2":
		return transport.StopBits2, nil
	default:
		return 0, dfuerr.New(dfuerr.KindConfigError, "uart stop bits must be 1, 1.5, or 2")
	}
}
