// Package dfuerr defines the unified error taxonomy shared by every layer
// of the DFU driver: image parsing, the packet protocol, the byte-channel
// transports, and the session controller. Callers (the CLI, or an embedding
// GUI) can type-switch on Kind without losing layer information, because
// transport and bootloader-status errors carry an extra mask bit.
package dfuerr

import "fmt"

// Kind identifies the category of a DFU error, matching the taxonomy table
// in the specification (input, device identity, protocol, transport,
// control, generic).
type Kind int

const (
	KindSuccess Kind = iota

	// Input layer
	KindFileNotFound
	KindFileReadError
	KindBadLength
	KindBadData
	KindBadCommand
	KindEOF
	KindConfigError

	// Device identity
	KindDeviceMismatch
	KindVersionMismatch

	// Protocol layer
	KindBadFrame
	KindBadChecksum
	KindBootloaderError
	KindChecksumMismatch
	KindArrayInvalid
	KindRowInvalid
	KindFlashProtected
	KindAppInactive
	KindAppInvalid
	KindKeyMismatch

	// Transport layer
	KindTimeout
	KindReadFailed
	KindWriteFailed
	KindDeviceInUse
	KindAccessDenied
	KindDeviceNotFound
	KindInternalError
	KindUnknownError

	// Control layer
	KindAborted
)

// Mask bits OR'd into the numeric code exposed to callers (e.g. CLI exit
// codes), so a caller can tell which layer produced the error without
// losing the specific code.
const (
	CommMask       = 0x1000
	BootloaderMask = 0x2000
)

var kindMessages = map[Kind]string{
	KindSuccess:          "success",
	KindFileNotFound:     "file not found",
	KindFileReadError:    "file read error",
	KindBadLength:        "bad length",
	KindBadData:          "bad data",
	KindBadCommand:       "bad command",
	KindEOF:              "end of file",
	KindConfigError:      "configuration error",
	KindDeviceMismatch:   "device identity mismatch",
	KindVersionMismatch:  "version mismatch",
	KindBadFrame:         "malformed packet frame",
	KindBadChecksum:      "packet checksum mismatch",
	KindBootloaderError:  "bootloader reported an error status",
	KindChecksumMismatch: "application checksum mismatch",
	KindArrayInvalid:     "flash array id invalid",
	KindRowInvalid:       "flash row invalid",
	KindFlashProtected:   "flash row is protected",
	KindAppInactive:      "application is not active",
	KindAppInvalid:       "application is not valid",
	KindKeyMismatch:      "bootloader key mismatch",
	KindTimeout:          "timeout",
	KindReadFailed:       "read failed",
	KindWriteFailed:      "write failed",
	KindDeviceInUse:      "device already in use",
	KindAccessDenied:     "access denied",
	KindDeviceNotFound:   "device not found",
	KindInternalError:    "internal error",
	KindUnknownError:     "unknown error",
	KindAborted:          "aborted",
}

// String returns the human-readable message for a Kind; this table is part
// of the public surface since the CLI and any embedding GUI render it
// directly to the user.
func (k Kind) String() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return fmt.Sprintf("unknown kind (%d)", int(k))
}

// Error is the concrete error type returned by every package in this
// module. Status carries the raw bootloader status byte for errors built by
// Bootloader, whichever Kind that byte maps to; it is zero otherwise.
type Error struct {
	Kind    Kind
	Status  byte
	Context string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status=0x%02x)", msg, e.Status)
	}
	if e.Context != "" {
		msg = e.Context + ": " + msg
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, dfuerr.New(KindTimeout, "")) style matching on Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an Error with no underlying cause.
func New(kind Kind, context string) *Error {
	return &Error{Kind: kind, Context: context}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(kind Kind, context string, cause error) *Error {
	return &Error{Kind: kind, Context: context, Cause: cause}
}

// Bootloader status byte values, per cybtldr_utils.h (CYBTLDR_STAT_*).
const (
	statusKey      = 0x01
	statusVerify   = 0x02
	statusLength   = 0x03
	statusData     = 0x04
	statusCmd      = 0x05
	statusDevice   = 0x06
	statusVersion  = 0x07
	statusChecksum = 0x08
	statusArray    = 0x09
	statusRow      = 0x0A
	statusProtect  = 0x0B
	statusApp      = 0x0C
	statusActive   = 0x0D
	statusUnknown  = 0x0F
)

// kindForStatus maps a device-reported status byte to the specific
// protocol-layer Kind the specification's error table names, so callers
// can distinguish e.g. a protected-flash row from a bad checksum without
// inspecting the raw status byte themselves.
func kindForStatus(status byte) Kind {
	switch status {
	case statusKey:
		return KindKeyMismatch
	case statusVerify, statusChecksum:
		return KindChecksumMismatch
	case statusLength:
		return KindBadLength
	case statusData:
		return KindBadData
	case statusCmd:
		return KindBadCommand
	case statusDevice:
		return KindDeviceMismatch
	case statusVersion:
		return KindVersionMismatch
	case statusArray:
		return KindArrayInvalid
	case statusRow:
		return KindRowInvalid
	case statusProtect:
		return KindFlashProtected
	case statusApp:
		return KindAppInvalid
	case statusActive:
		return KindAppInactive
	default:
		return KindBootloaderError
	}
}

// Bootloader creates an Error for a non-success bootloader status byte.
// Status is preserved verbatim even when Kind resolves to a more specific
// protocol-layer kind, so callers can still recover the raw device code.
func Bootloader(status byte, context string) *Error {
	return &Error{Kind: kindForStatus(status), Status: status, Context: context}
}

// isTransport reports whether a Kind belongs to the transport layer, used
// to decide the mask applied by Code.
func isTransport(k Kind) bool {
	switch k {
	case KindTimeout, KindReadFailed, KindWriteFailed, KindDeviceInUse,
		KindAccessDenied, KindDeviceNotFound, KindInternalError, KindUnknownError:
		return true
	}
	return false
}

// Code returns the masked numeric code for an error: transport errors are
// OR'd with CommMask, bootloader-status errors with BootloaderMask, per the
// masking convention in the specification. A nil err yields 0.
func Code(err error) int {
	if err == nil {
		return 0
	}
	e, ok := err.(*Error)
	if !ok {
		return int(KindUnknownError) | CommMask
	}
	code := int(e.Kind)
	if e.Kind == KindBootloaderError || e.Status != 0 {
		code = int(e.Status) | BootloaderMask
	} else if isTransport(e.Kind) {
		code |= CommMask
	}
	return code
}
