// Package protocol encodes requests for and decodes replies from the two-axis
// mount controller. Requests are ":" + body + CR, replies are body + CR with a
// body of at most eight bytes. Numeric arguments travel as six hex digits with
// the digit pairs in reverse (little-endian) order.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Wire constants.
const (
	StartDelimiter = ':'
	Terminator     = '\r'
	ErrorMarker    = '!'
	OkMarker       = '='

	// MaxBodyLen bounds both request bodies and reply bodies.
	MaxBodyLen = 8
	// ValueDigits is the width of a numeric argument or payload.
	ValueDigits = 6
	// MaxValue is the largest value that fits in ValueDigits hex digits.
	MaxValue = 1<<24 - 1

	minCommandLen = 7
)

// Reply is a successfully framed reply that was not an error. Payload excludes
// the leading '=' sentinel and the terminator.
type Reply struct {
	Payload string
}

// SwapPairs reverses the order of the two-character groups in s, converting
// between human (big-endian) order and mount order. It is its own inverse.
// A trailing unpaired character is left in place.
func SwapPairs(s string) string {
	n := len(s) / 2
	b := make([]byte, 0, len(s))
	for i := n - 1; i >= 0; i-- {
		b = append(b, s[2*i], s[2*i+1])
	}
	if len(s)%2 == 1 {
		b = append(b, s[len(s)-1])
	}
	return string(b)
}

// EncodeCommand builds a request body from a command flag, an axis channel and
// an argument in human order, e.g. ('S', '1', "0ABCDE") -> "S1DEBC0A".
func EncodeCommand(flag, channel byte, argumentHex string) (string, error) {
	return Encode(string([]byte{flag, channel}) + argumentHex)
}

// Encode converts a human-order body ("S1abcdef") to mount order ("S1efcdab").
// A five-digit argument is zero padded on the left.
func Encode(body string) (string, error) {
	if len(body) < minCommandLen {
		return "", &FormatError{Input: body, Reason: fmt.Sprintf("command length %d below %d", len(body), minCommandLen)}
	}
	arg := strings.ToUpper(body[2:])
	if len(arg) < ValueDigits {
		arg = strings.Repeat("0", ValueDigits-len(arg)) + arg
	}
	if len(arg) != ValueDigits {
		return "", &FormatError{Input: body, Reason: fmt.Sprintf("argument has %d hex digits, want %d", len(arg), ValueDigits)}
	}
	if !isHex(arg) {
		return "", &FormatError{Input: body, Reason: "argument is not hexadecimal"}
	}
	return body[:2] + SwapPairs(arg), nil
}

// DecodeCommand is the inverse of EncodeCommand. It is used by the mount
// simulator to read requests.
func DecodeCommand(body string) (flag, channel byte, argumentHex string, err error) {
	body = strings.TrimSuffix(strings.TrimPrefix(body, string(StartDelimiter)), string(Terminator))
	if len(body) < 2 {
		return 0, 0, "", &FormatError{Input: body, Reason: "command shorter than flag and channel"}
	}
	if len(body) > MaxBodyLen {
		return 0, 0, "", &FormatError{Input: body, Reason: "command longer than frame"}
	}
	arg := body[2:]
	if len(arg) == ValueDigits {
		if !isHex(arg) {
			return 0, 0, "", &FormatError{Input: body, Reason: "argument is not hexadecimal"}
		}
		arg = SwapPairs(arg)
	}
	return body[0], body[1], arg, nil
}

// Frame wraps a request body in the start delimiter and terminator.
func Frame(body string) []byte {
	b := make([]byte, 0, len(body)+2)
	b = append(b, StartDelimiter)
	b = append(b, body...)
	return append(b, Terminator)
}

// DecodeResponse strips framing from raw and classifies it. Error replies are
// returned as *MountError, anything that does not fit the frame as
// *FormatError.
func DecodeResponse(raw string) (Reply, error) {
	body := strings.TrimRight(raw, "\r\n")
	if len(body) == 0 {
		return Reply{}, &FormatError{Input: raw, Reason: "empty reply"}
	}
	if len(body) > MaxBodyLen {
		return Reply{}, &FormatError{Input: raw, Reason: fmt.Sprintf("reply length %d exceeds %d", len(body), MaxBodyLen)}
	}
	switch body[0] {
	case ErrorMarker:
		if len(body) < 2 {
			return Reply{}, &FormatError{Input: raw, Reason: "error reply without code"}
		}
		return Reply{}, classifyErrorDigit(body[1])
	case OkMarker:
		return Reply{Payload: body[1:]}, nil
	default:
		return Reply{}, &FormatError{Input: raw, Reason: "missing reply marker"}
	}
}

// Hex returns the numeric payload in human order.
func (r Reply) Hex() (string, error) {
	if len(r.Payload) < ValueDigits {
		return "", &FormatError{Input: r.Payload, Reason: fmt.Sprintf("payload has %d characters, want %d", len(r.Payload), ValueDigits)}
	}
	v := r.Payload[:ValueDigits]
	if !isHex(v) {
		return "", &FormatError{Input: r.Payload, Reason: "payload is not hexadecimal"}
	}
	return SwapPairs(v), nil
}

// Value parses the numeric payload.
func (r Reply) Value() (uint32, error) {
	h, err := r.Hex()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return 0, &FormatError{Input: r.Payload, Reason: err.Error()}
	}
	return uint32(v), nil
}

// Moving interprets a status payload. The first status digit carries mode
// flags; any non-zero digit after it means the axis is running.
func (r Reply) Moving() (bool, error) {
	if len(r.Payload) < 2 {
		return false, &FormatError{Input: r.Payload, Reason: "status payload too short"}
	}
	for i := 1; i < len(r.Payload); i++ {
		c := r.Payload[i]
		if !isHexDigit(c) {
			return false, &FormatError{Input: r.Payload, Reason: "status is not hexadecimal"}
		}
		if c != '0' {
			return true, nil
		}
	}
	return false, nil
}

// FormatValue renders v as six upper-case hex digits in human order.
func FormatValue(v uint32) string {
	return fmt.Sprintf("%06X", v&MaxValue)
}

// EncodeValue renders v as six hex digits in mount order, the form used for
// reply payloads.
func EncodeValue(v uint32) string {
	return SwapPairs(FormatValue(v))
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}
