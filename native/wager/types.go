package wager

import (
	"fmt"
	"math/big"
	"strings"

	"wagerchain/crypto"
)

// Outcome records how a claimed escrow was settled.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeReleased
	OutcomeRefunded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeReleased:
		return "released"
	case OutcomeRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

// Valid reports whether the outcome value is within the supported range.
func (o Outcome) Valid() bool {
	return o == OutcomeNone || o == OutcomeReleased || o == OutcomeRefunded
}

// Record is the escrow state tracked for a single game. White is the first
// contributor and Black the optional second one. Total is stored rather than
// derived and always equals WhiteAmount + BlackAmount.
type Record struct {
	GameID      uint64
	White       crypto.Address
	Black       *crypto.Address
	WhiteAmount *big.Int
	BlackAmount *big.Int
	Total       *big.Int
	Claimed     bool
	Outcome     Outcome
	Winner      *crypto.Address
	CreatedAt   int64
	UpdatedAt   int64
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.WhiteAmount = cloneAmount(r.WhiteAmount)
	clone.BlackAmount = cloneAmount(r.BlackAmount)
	clone.Total = cloneAmount(r.Total)
	if r.Black != nil {
		black := *r.Black
		clone.Black = &black
	}
	if r.Winner != nil {
		winner := *r.Winner
		clone.Winner = &winner
	}
	return &clone
}

// HasBlack reports whether the second contributor has joined.
func (r *Record) HasBlack() bool { return r != nil && r.Black != nil }

// IsParticipant reports whether addr contributed to the escrow.
func (r *Record) IsParticipant(addr crypto.Address) bool {
	if r == nil {
		return false
	}
	if r.White == addr {
		return true
	}
	return r.Black != nil && *r.Black == addr
}

// SanitizeRecord validates the record invariants and returns a normalised
// clone with non-nil amounts. The original value is not mutated.
func SanitizeRecord(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("nil wager record")
	}
	clone := r.Clone()
	if clone.WhiteAmount.Sign() < 0 || clone.BlackAmount.Sign() < 0 || clone.Total.Sign() < 0 {
		return nil, fmt.Errorf("wager %d: negative amount", clone.GameID)
	}
	sum := new(big.Int).Add(clone.WhiteAmount, clone.BlackAmount)
	if sum.Cmp(clone.Total) != 0 {
		return nil, fmt.Errorf("wager %d: total %s does not match contributions %s", clone.GameID, clone.Total, sum)
	}
	if clone.BlackAmount.Sign() > 0 && clone.Black == nil {
		return nil, fmt.Errorf("wager %d: black amount without black player", clone.GameID)
	}
	if !clone.Outcome.Valid() {
		return nil, fmt.Errorf("wager %d: invalid outcome %d", clone.GameID, clone.Outcome)
	}
	if clone.Claimed != (clone.Outcome != OutcomeNone) {
		return nil, fmt.Errorf("wager %d: claimed flag inconsistent with outcome %s", clone.GameID, clone.Outcome)
	}
	if clone.Winner != nil && clone.Outcome != OutcomeReleased {
		return nil, fmt.Errorf("wager %d: winner recorded without release", clone.GameID)
	}
	return clone, nil
}

// Status filters records by settlement state.
type Status uint8

const (
	StatusAll Status = iota
	StatusOpen
	StatusSettled
)

// ParseStatus maps the textual filter used by the API onto a Status.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "all":
		return StatusAll, nil
	case "open":
		return StatusOpen, nil
	case "settled", "claimed":
		return StatusSettled, nil
	default:
		return StatusAll, fmt.Errorf("unknown status filter %q", raw)
	}
}

func (s Status) matches(r *Record) bool {
	switch s {
	case StatusOpen:
		return !r.Claimed
	case StatusSettled:
		return r.Claimed
	default:
		return true
	}
}

// Payout is an amount owed to a participant once an escrow is settled.
type Payout struct {
	Player crypto.Address
	Amount *big.Int
}

// Refund lists the payouts owed after a refund, white first.
type Refund struct {
	GameID  uint64
	Payouts []Payout
}

// Total sums all payouts of the refund.
func (r *Refund) Total() *big.Int {
	total := big.NewInt(0)
	if r == nil {
		return total
	}
	for _, p := range r.Payouts {
		if p.Amount != nil {
			total.Add(total, p.Amount)
		}
	}
	return total
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
