package protocol

import "errors"

var (
	// Codec errors

	ErrShortBuffer   = errors.New("read past end of buffer")
	ErrInvalidHeader = errors.New("invalid message header")

	// Transport errors

	ErrTransportClosed   = errors.New("transport is closed")
	ErrTransportOpen     = errors.New("transport is already open")
	ErrConnectionUnknown = errors.New("unknown connection")
	ErrSendQueueFull     = errors.New("send queue is full")
)
