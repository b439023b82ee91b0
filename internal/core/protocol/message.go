package protocol

// Header is the one-byte discriminator at the start of every message. The
// zero value is deliberately invalid so a zeroed or truncated buffer never
// parses as a real message.
type Header uint8

const (
	HeaderInvalid Header = iota
	HeaderDeltaSnapshot
	HeaderRequestFullSnapshot
	HeaderFullSnapshot

	// headerCoreLast leaves room for application-defined headers above the
	// core set.
	headerCoreLast
)

func (h Header) String() string {
	switch h {
	case HeaderInvalid:
		return "invalid"
	case HeaderDeltaSnapshot:
		return "delta_snapshot"
	case HeaderRequestFullSnapshot:
		return "request_full_snapshot"
	case HeaderFullSnapshot:
		return "full_snapshot"
	default:
		return "unknown"
	}
}

// Valid reports whether h is a known core header.
func (h Header) Valid() bool {
	return h > HeaderInvalid && h < headerCoreLast
}
