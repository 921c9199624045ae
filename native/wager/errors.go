package wager

import (
	"errors"
	"fmt"
)

// Stable error codes exposed to callers. The numeric values are part of the
// public contract and must never be renumbered.
const (
	CodeGameNotFound   uint32 = 201
	CodeAlreadyClaimed uint32 = 202
	CodeGameExists     uint32 = 203
	CodeAlreadyJoined  uint32 = 204
	CodeInvalidWinner  uint32 = 205
	CodeInvalidAmount  uint32 = 206
)

// Error is a client error carrying one of the stable wager codes.
type Error struct {
	Code uint32
	desc string
}

func (e *Error) Error() string { return fmt.Sprintf("wager: %s (code %d)", e.desc, e.Code) }

// Is matches any *Error with the same code so wrapped or re-created values
// compare equal to the exported sentinels.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func register(code uint32, desc string) *Error { return &Error{Code: code, desc: desc} }

var (
	ErrGameNotFound   = register(CodeGameNotFound, "game not found")
	ErrAlreadyClaimed = register(CodeAlreadyClaimed, "escrow already claimed")
	ErrGameExists     = register(CodeGameExists, "game already initialised")
	ErrAlreadyJoined  = register(CodeAlreadyJoined, "second player already joined")
	ErrInvalidWinner  = register(CodeInvalidWinner, "winner is not a participant")
	ErrInvalidAmount  = register(CodeInvalidAmount, "amount must be non-negative")

	errNilState = errors.New("wager engine: state not configured")
)

// CodeOf returns the stable code carried by err, if any.
func CodeOf(err error) (uint32, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code, true
	}
	return 0, false
}
