package wager

import (
	"fmt"
	"strings"
)

// ReinitPolicy decides what Initialize does when the game id is already in use.
type ReinitPolicy uint8

const (
	// ReinitOverwrite silently replaces the existing record.
	ReinitOverwrite ReinitPolicy = iota
	// ReinitStrict rejects the call with ErrGameExists.
	ReinitStrict
)

// JoinPolicy decides what Join does when a second player is already recorded.
type JoinPolicy uint8

const (
	// JoinOverwrite replaces the previous second contribution.
	JoinOverwrite JoinPolicy = iota
	// JoinStrict rejects the call with ErrAlreadyJoined.
	JoinStrict
)

// Policy groups the engine's configurable settlement rules. The zero value
// keeps the permissive overwrite behaviour and accepts any winner.
type Policy struct {
	Reinit              ReinitPolicy
	Join                JoinPolicy
	RequireMemberWinner bool
}

// StrictPolicy rejects re-initialisation and double joins and only pays out
// to participants.
func StrictPolicy() Policy {
	return Policy{Reinit: ReinitStrict, Join: JoinStrict, RequireMemberWinner: true}
}

// ParsePolicy maps a configuration mode ("strict" or "overwrite") onto a
// Policy. requireMember is applied on top of the selected mode.
func ParsePolicy(mode string, requireMember bool) (Policy, error) {
	var policy Policy
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "strict":
		policy = Policy{Reinit: ReinitStrict, Join: JoinStrict}
	case "overwrite":
		policy = Policy{}
	default:
		return Policy{}, fmt.Errorf("unknown wager policy %q", mode)
	}
	policy.RequireMemberWinner = requireMember
	return policy, nil
}

func (p Policy) String() string {
	mode := "overwrite"
	if p.Reinit == ReinitStrict && p.Join == JoinStrict {
		mode = "strict"
	} else if p.Reinit == ReinitStrict || p.Join == JoinStrict {
		mode = "mixed"
	}
	if p.RequireMemberWinner {
		return mode + "+member-winner"
	}
	return mode
}
