//go:build unit

package config

import (
	"testing"

	"github.com/cydfu/host/dfuerr"
	"github.com/cydfu/host/transport/i2cchan"
	"github.com/cydfu/host/transport/spichan"
	"github.com/cydfu/host/transport/uartchan"
)

func wantConfigError(t *testing.T, err error) {
	t.Helper()
	e, ok := err.(*dfuerr.Error)
	if !ok || e.Kind != dfuerr.KindConfigError {
		t.Fatalf("got %v, want KindConfigError", err)
	}
}

func TestBuildI2CValidAddressReturnsChannel(t *testing.T) {
	ch, err := BuildI2C("/dev/i2c-1", I2CFlags{Address: 0x50, SpeedKHz: 400})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ch.(*i2cchan.Channel); !ok {
		t.Fatalf("got %T, want *i2cchan.Channel", ch)
	}
}

func TestBuildI2CRejectsAddressOutOfRange(t *testing.T) {
	if _, err := BuildI2C("/dev/i2c-1", I2CFlags{Address: 7}); err == nil {
		t.Fatal("expected an error for address below 8")
	} else {
		wantConfigError(t, err)
	}
	if _, err := BuildI2C("/dev/i2c-1", I2CFlags{Address: 121}); err == nil {
		t.Fatal("expected an error for address above 120")
	} else {
		wantConfigError(t, err)
	}
}

func TestBuildI2CBoundaryAddressesAreValid(t *testing.T) {
	for _, addr := range []uint8{8, 120} {
		if _, err := BuildI2C("/dev/i2c-1", I2CFlags{Address: addr}); err != nil {
			t.Errorf("address %d: unexpected error %v", addr, err)
		}
	}
}

func TestBuildSPIValidModeReturnsChannel(t *testing.T) {
	ch, err := BuildSPI("/dev/spidev0.0", SPIFlags{ClockMHz: 1, Mode: 0})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ch.(*spichan.Channel); !ok {
		t.Fatalf("got %T, want *spichan.Channel", ch)
	}
}

func TestBuildSPIRejectsModeAbove3(t *testing.T) {
	if _, err := BuildSPI("/dev/spidev0.0", SPIFlags{Mode: 4}); err == nil {
		t.Fatal("expected an error for mode 4")
	} else {
		wantConfigError(t, err)
	}
}

func TestBuildSPIAllValidModesAccepted(t *testing.T) {
	for _, m := range []uint8{0, 1, 2, 3} {
		if _, err := BuildSPI("/dev/spidev0.0", SPIFlags{Mode: m}); err != nil {
			t.Errorf("mode %d: unexpected error %v", m, err)
		}
	}
}

func TestBuildUARTValidSettingsReturnsChannel(t *testing.T) {
	ch, err := BuildUART("/dev/ttyUSB0", UARTFlags{BaudRate: 115200, DataBits: 8, ParityType: "None", StopBits: "1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ch.(*uartchan.Channel); !ok {
		t.Fatalf("got %T, want *uartchan.Channel", ch)
	}
}

func TestBuildUARTRejectsBadDataBits(t *testing.T) {
	if _, err := BuildUART("/dev/ttyUSB0", UARTFlags{DataBits: 9}); err == nil {
		t.Fatal("expected an error for 9 data bits")
	} else {
		wantConfigError(t, err)
	}
}

func TestBuildUARTParityVariants(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"None", false},
		{"Odd", false},
		{"Even", false},
		{"Mark", true},
	}
	for _, tt := range tests {
		_, err := BuildUART("/dev/ttyUSB0", UARTFlags{DataBits: 8, ParityType: tt.in})
		if tt.wantErr && err == nil {
			t.Errorf("parity %q: expected an error", tt.in)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("parity %q: unexpected error %v", tt.in, err)
		}
	}
}

func TestBuildUARTStopBitsVariants(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"", false},
		{"1", false},
		{"1.5", false},
		{"2", false},
		{"3", true},
	}
	for _, tt := range tests {
		_, err := BuildUART("/dev/ttyUSB0", UARTFlags{DataBits: 8, StopBits: tt.in})
		if tt.wantErr && err == nil {
			t.Errorf("stop bits %q: expected an error", tt.in)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("stop bits %q: unexpected error %v", tt.in, err)
		}
	}
}
