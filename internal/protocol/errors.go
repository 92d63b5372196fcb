package protocol

import "fmt"

// ErrorCode is the single digit the mount firmware returns after the '!' marker.
type ErrorCode int

const (
	UnknownCommand ErrorCode = iota
	CommandLength
	MotorNotStopped
	InvalidCharacter
	NotInitialised
	DriverSleeping
	Unrecognised
)

func (c ErrorCode) String() string {
	switch c {
	case UnknownCommand:
		return "unknown command"
	case CommandLength:
		return "command length"
	case MotorNotStopped:
		return "motor not stopped"
	case InvalidCharacter:
		return "invalid character"
	case NotInitialised:
		return "not initialised"
	case DriverSleeping:
		return "driver sleeping"
	default:
		return "unrecognised"
	}
}

// Retryable reports whether resending the same command can succeed. An unknown
// command will be rejected the same way every time.
func (c ErrorCode) Retryable() bool {
	return c != UnknownCommand
}

// MountError is an error reply ("!n") from the mount firmware.
type MountError struct {
	Code ErrorCode
	// Raw is the digit as received, kept for Unrecognised codes.
	Raw byte
}

func (e *MountError) Error() string {
	if e.Code == Unrecognised {
		return fmt.Sprintf("mount error: unrecognised code %q", e.Raw)
	}
	return fmt.Sprintf("mount error %d: %s", e.Code, e.Code)
}

// FormatError reports a command or reply that does not fit the wire format.
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error: %s (input %q)", e.Reason, e.Input)
}

func classifyErrorDigit(d byte) *MountError {
	if d >= '0' && d <= '5' {
		return &MountError{Code: ErrorCode(d - '0'), Raw: d}
	}
	return &MountError{Code: Unrecognised, Raw: d}
}
