// Command dfuctl is the CLI front-end for the DFU host driver: one action
// flag selects program/verify/erase/send-command/generate-mtbdfu, and one
// channel flag group selects I2C, SPI, or UART. It is a thin Cobra wrapper
// around the session package — no protocol logic lives here.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/internal/config"
	"github.com/cydfu/host/internal/logctx"
	"github.com/cydfu/host/session"
	"github.com/cydfu/host/transport"
)

type flags struct {
	programDevice   string
	verifyDevice    string
	eraseDevice     string
	customCommand   string
	displayHW       bool
	hwid            string
	debug           bool
	generateMtbdfu  string

	devicePath string

	i2cAddress uint8
	i2cSpeed   uint32

	spiClockSpeed uint32
	spiMode       uint8
	spiLSBFirst   bool

	uartBaudRate uint32
	uartDataBits int
	uartParity   string
	uartStop     string

	fileVersion      uint32
	productID        uint32
	applicationID    uint8
	applicationStart uint32
	applicationLen   uint32
	checksumType     uint8
	mtbdfuDataFile   string
}

func main() {
	f := &flags{}
	root := newRootCommand(f)
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func newRootCommand(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dfuctl <device-path>",
		Short: "Program, verify, or erase a bootloader-capable device over I2C/SPI/UART",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				f.devicePath = args[0]
			}
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.programDevice, "program-device", "", "program a .cyacd2 image")
	cmd.Flags().StringVar(&f.verifyDevice, "verify-device", "", "verify a .cyacd2 image")
	cmd.Flags().StringVar(&f.eraseDevice, "erase-device", "", "erase flash rows from a .cyacd2 image")
	cmd.Flags().StringVar(&f.customCommand, "custom-command", "", "execute a .mtbdfu script")
	cmd.Flags().BoolVar(&f.displayHW, "display-hw", false, "display hardware identity and exit")
	cmd.Flags().StringVar(&f.hwid, "hwid", "", "hardware id string reported to the device, if applicable")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&f.generateMtbdfu, "generate-mtbdfu", "", "write a generated .mtbdfu script to this path and exit")

	cmd.Flags().Uint8Var(&f.i2cAddress, "i2c-address", 0, "I2C 7-bit slave address")
	cmd.Flags().Uint32Var(&f.i2cSpeed, "i2c-speed", 0, "I2C bus speed in kHz")

	cmd.Flags().Uint32Var(&f.spiClockSpeed, "spi-clockspeed", 0, "SPI clock speed in MHz")
	cmd.Flags().Uint8Var(&f.spiMode, "spi-mode", 0, "SPI mode, 0-3")
	cmd.Flags().BoolVar(&f.spiLSBFirst, "spi-lsb-first", false, "shift SPI bits LSB-first")

	cmd.Flags().Uint32Var(&f.uartBaudRate, "uart-baudrate", 0, "UART baud rate")
	cmd.Flags().IntVar(&f.uartDataBits, "uart-databits", 8, "UART data bits, 7 or 8")
	cmd.Flags().StringVar(&f.uartParity, "uart-paritytype", "None", "UART parity: None, Odd, or Even")
	cmd.Flags().StringVar(&f.uartStop, "uart-stopbits", "1", "UART stop bits: 1, 1.5, or 2")

	cmd.Flags().Uint32Var(&f.fileVersion, "file-version", 1, "generated .mtbdfu file version")
	cmd.Flags().Uint32Var(&f.productID, "product-id", 0, "generated .mtbdfu product id")
	cmd.Flags().Uint8Var(&f.applicationID, "application-id", 0, "generated .mtbdfu application id")
	cmd.Flags().Uint32Var(&f.applicationStart, "application-start", 0, "generated .mtbdfu application start address")
	cmd.Flags().Uint32Var(&f.applicationLen, "application-length", 0, "generated .mtbdfu application length")
	cmd.Flags().Uint8Var(&f.checksumType, "checksum-type", 0, "generated .mtbdfu checksum type: 0=SUM, 1=CRC")
	cmd.Flags().StringVar(&f.mtbdfuDataFile, "mtbdfu-data-file", "", "Intel-HEX data file bound to the generated .mtbdfu script")

	return cmd
}

func run(ctx context.Context, f *flags) error {
	log := logctx.New(f.debug)

	if f.displayHW {
		fmt.Printf("dfuctl hwid=%q\n", f.hwid)
		return nil
	}
	if f.generateMtbdfu != "" {
		return generateMtbdfu(f)
	}

	actionCount := 0
	for _, v := range []string{f.programDevice, f.verifyDevice, f.eraseDevice, f.customCommand} {
		if v != "" {
			actionCount++
		}
	}
	if actionCount != 1 {
		return dfuerr.New(dfuerr.KindConfigError, "exactly one of --program-device, --verify-device, --erase-device, --custom-command is required")
	}

	ch, err := resolveChannel(f)
	if err != nil {
		return err
	}

	action := actionName(f)
	actionLog := logctx.WithAction(log, action, f.devicePath)

	ctrl := session.New(session.WithLogger(actionLog))
	sink := func(pct float64) {
		actionLog.Debugf("progress: %.1f%%", pct)
	}

	switch {
	case f.programDevice != "":
		return ctrl.Program(ctx, f.programDevice, ch, sink)
	case f.verifyDevice != "":
		return ctrl.Verify(ctx, f.verifyDevice, ch, sink)
	case f.eraseDevice != "":
		return ctrl.Erase(ctx, f.eraseDevice, ch, sink)
	default:
		return ctrl.SendCommand(ctx, f.customCommand, ch, sink)
	}
}

func actionName(f *flags) string {
	switch {
	case f.programDevice != "":
		return "program"
	case f.verifyDevice != "":
		return "verify"
	case f.eraseDevice != "":
		return "erase"
	default:
		return "send-command"
	}
}

func resolveChannel(f *flags) (transport.Channel, error) {
	groups := 0
	if f.i2cAddress != 0 || f.i2cSpeed != 0 {
		groups++
	}
	if f.spiClockSpeed != 0 {
		groups++
	}
	if f.uartBaudRate != 0 {
		groups++
	}
	if groups != 1 {
		return nil, dfuerr.New(dfuerr.KindConfigError, "exactly one channel flag group (I2C, SPI, UART) is required")
	}
	if f.devicePath == "" {
		return nil, dfuerr.New(dfuerr.KindConfigError, "a device path argument is required")
	}

	switch {
	case f.i2cSpeed != 0 || f.i2cAddress != 0:
		return config.BuildI2C(f.devicePath, config.I2CFlags{Address: f.i2cAddress, SpeedKHz: f.i2cSpeed})
	case f.spiClockSpeed != 0:
		return config.BuildSPI(f.devicePath, config.SPIFlags{ClockMHz: f.spiClockSpeed, Mode: f.spiMode, LSBFirst: f.spiLSBFirst})
	default:
		return config.BuildUART(f.devicePath, config.UARTFlags{
			BaudRate:   f.uartBaudRate,
			DataBits:   f.uartDataBits,
			ParityType: f.uartParity,
			StopBits:   f.uartStop,
		})
	}
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	return dfuerr.Code(err)
}
