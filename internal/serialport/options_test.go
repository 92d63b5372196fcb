package serialport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		in      PortOptions
		want    PortOptions
		wantErr bool
	}{
		{"defaults", PortOptions{}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"}, false},
		{"even spelled out", PortOptions{BaudRate: 115200, Parity: " even "}, PortOptions{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "E"}, false},
		{"odd two stop bits", PortOptions{StopBits: 2, Parity: "o"}, PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 2, Parity: "O"}, false},
		{"bad data bits", PortOptions{DataBits: 9}, PortOptions{}, true},
		{"bad stop bits", PortOptions{StopBits: 3}, PortOptions{}, true},
		{"bad parity", PortOptions{Parity: "mark"}, PortOptions{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.in.Normalize()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 19200, StopBits: 2, Parity: "E"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, 19200, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)

	mode, err = PortOptions{}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.NoParity, mode.Parity)

	_, err = PortOptions{Parity: "X"}.SerialMode()
	assert.Error(t, err)
}

func TestPortOptionsString(t *testing.T) {
	assert.Equal(t, "9600 8N1", PortOptions{}.String())
	assert.Contains(t, PortOptions{DataBits: 4}.String(), "invalid")
}
