// Package sim emulates the mount controller and the received-power field
// for dev mode and integration tests.
package sim

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"

	"github.com/banshee-data/beamalign/internal/monitoring"
	"github.com/banshee-data/beamalign/internal/mount"
	"github.com/banshee-data/beamalign/internal/protocol"
	"github.com/banshee-data/beamalign/internal/serialport"
)

type axisState struct {
	pos     uint32
	target  uint32
	armed   bool
	pending int // status polls left before the move completes
	moving  bool
}

// Mount emulates the two-axis controller at the wire level. It answers
// position (j), status (f), stop (K), set target (S), arm (G) and go (J)
// commands, and can inject mount errors at random.
type Mount struct {
	mu          sync.Mutex
	axes        [3]axisState // indexed by channel, 0 unused
	stepsPerRev uint32
	rng         *rand.Rand
	commands    []string

	// MovePolls is the number of status polls that report moving after a
	// go command.
	MovePolls int
	// ErrorRate is the probability of answering a command with "!2".
	ErrorRate float64
	// Stuck keeps moving axes moving forever.
	Stuck bool
}

// NewMount creates an emulated mount with both axes at the given positions.
// seed makes error injection reproducible.
func NewMount(axis1, axis2 mount.Position, seed uint64) *Mount {
	m := &Mount{
		stepsPerRev: mount.DefaultStepsPerRevolution,
		rng:         rand.New(rand.NewPCG(seed, seed^0x5eed)),
		MovePolls:   2,
	}
	m.axes[1].pos = uint32(axis1)
	m.axes[2].pos = uint32(axis2)
	return m
}

// Port returns a serial port wired to the emulator.
func (m *Mount) Port() *serialport.TestableSerialPort {
	port := serialport.NewTestableSerialPort()
	port.Respond = m.Respond
	return port
}

// Position returns the emulated encoder count of an axis.
func (m *Mount) Position(axis mount.Axis) mount.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return mount.Position(m.axes[axis].pos)
}

// Commands returns the command bodies received, in order.
func (m *Mount) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.commands...)
}

// Respond answers one written frame. It is suitable as
// serialport.TestableSerialPort.Respond.
func (m *Mount) Respond(written []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	frame := string(written)
	if !strings.HasPrefix(frame, string(protocol.StartDelimiter)) || !strings.HasSuffix(frame, string(protocol.Terminator)) {
		return reply("!1")
	}
	body := frame[1 : len(frame)-1]
	m.commands = append(m.commands, body)

	if m.ErrorRate > 0 && m.rng.Float64() < m.ErrorRate {
		monitoring.Debugf("sim: injecting error for %q", body)
		return reply("!2")
	}
	return reply(m.handle(body))
}

func reply(body string) []byte {
	return []byte(body + string(protocol.Terminator))
}

func (m *Mount) handle(body string) string {
	if len(body) < 2 {
		return "!1"
	}
	ch := int(body[1] - '0')
	if ch < 1 || ch > 3 || (ch == 3 && body[0] != 'K') {
		return "!3"
	}

	switch body[0] {
	case 'j':
		return "=" + protocol.EncodeValue(m.axes[ch].pos)
	case 'f':
		return "=" + m.status(ch)
	case 'K':
		if ch == 3 {
			m.stop(1)
			m.stop(2)
		} else {
			m.stop(ch)
		}
		return "="
	case 'S':
		_, _, arg, err := protocol.DecodeCommand(body)
		if err != nil {
			return "!1"
		}
		v, err := strconv.ParseUint(arg, 16, 32)
		if err != nil || len(arg) != protocol.ValueDigits || uint32(v) >= m.stepsPerRev {
			return "!3"
		}
		if m.axes[ch].moving {
			return "!2"
		}
		m.axes[ch].target = uint32(v)
		return "="
	case 'G':
		if body != "G"+body[1:2]+"01" {
			return "!1"
		}
		m.axes[ch].armed = true
		return "="
	case 'J':
		a := &m.axes[ch]
		if !a.armed {
			return "!4"
		}
		a.armed = false
		if m.MovePolls <= 0 && !m.Stuck {
			a.pos = a.target
			return "="
		}
		a.moving = true
		a.pending = m.MovePolls
		return "="
	default:
		return "!0"
	}
}

func (m *Mount) status(ch int) string {
	a := &m.axes[ch]
	if a.moving && !m.Stuck {
		if a.pending <= 0 {
			a.moving = false
			a.pos = a.target
		} else {
			a.pending--
		}
	}
	if a.moving {
		return "110"
	}
	return "100"
}

func (m *Mount) stop(ch int) {
	a := &m.axes[ch]
	a.moving = false
	a.armed = false
	a.pending = 0
}
