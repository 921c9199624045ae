package wager

import (
	"strconv"

	"wagerchain/core/types"
)

const (
	EventTypeWagerInitialized = "wager.initialized"
	EventTypeWagerJoined      = "wager.joined"
	EventTypeWagerReleased    = "wager.released"
	EventTypeWagerRefunded    = "wager.refunded"
)

// wagerEvent adapts a canonical payload to the events.Event interface.
type wagerEvent struct {
	evt *types.Event
}

func (e wagerEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e wagerEvent) Event() *types.Event { return e.evt }

// NewInitializedEvent returns the canonical payload for a newly initialised
// escrow. replaced marks an overwrite of an existing record.
func NewInitializedEvent(r *Record, replaced bool) *types.Event {
	evt := newWagerEvent(EventTypeWagerInitialized, r)
	if replaced {
		evt.Attributes["replaced"] = "true"
	}
	return evt
}

// NewJoinedEvent returns the canonical payload emitted when the second player
// contributes. replaced marks an overwrite of a previous second contribution.
func NewJoinedEvent(r *Record, replaced bool) *types.Event {
	evt := newWagerEvent(EventTypeWagerJoined, r)
	if replaced {
		evt.Attributes["replaced"] = "true"
	}
	return evt
}

// NewReleasedEvent returns the canonical payload for a release of the pooled
// total to the winner.
func NewReleasedEvent(r *Record) *types.Event { return newWagerEvent(EventTypeWagerReleased, r) }

// NewRefundedEvent returns the canonical payload for a refund to both players.
func NewRefundedEvent(r *Record) *types.Event { return newWagerEvent(EventTypeWagerRefunded, r) }

func newWagerEvent(eventType string, r *Record) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["gameId"] = strconv.FormatUint(sanitized.GameID, 10)
	attrs["white"] = sanitized.White.String()
	attrs["whiteAmount"] = sanitized.WhiteAmount.String()
	attrs["blackAmount"] = sanitized.BlackAmount.String()
	attrs["total"] = sanitized.Total.String()
	attrs["claimed"] = strconv.FormatBool(sanitized.Claimed)
	if sanitized.Black != nil {
		attrs["black"] = sanitized.Black.String()
	}
	if sanitized.Outcome != OutcomeNone {
		attrs["outcome"] = sanitized.Outcome.String()
	}
	if sanitized.Winner != nil {
		attrs["winner"] = sanitized.Winner.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
