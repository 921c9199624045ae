package wager

import (
	"math/big"
	"time"

	"wagerchain/core/events"
	"wagerchain/core/types"
	"wagerchain/crypto"
	nativecommon "wagerchain/native/common"
)

// ModuleName identifies the wager engine in pause configuration.
const ModuleName = "wager"

type engineState interface {
	WagerPut(*Record) error
	WagerGet(gameID uint64) (*Record, bool, error)
	WagerIterate(fn func(*Record) bool) error
}

// Engine owns the escrow records keyed by game id and enforces the
// settlement rules. Mutations on the same game id are serialised; distinct
// games proceed independently.
type Engine struct {
	state   engineState
	emitter events.Emitter
	policy  Policy
	pauses  nativecommon.PauseView
	locks   *nativecommon.KeyLock
	nowFn   func() int64
}

// NewEngine creates a wager engine with a no-op emitter and the zero Policy.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		locks:   nativecommon.NewKeyLock(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPolicy selects how re-initialisation, double joins and winner checks are
// handled.
func (e *Engine) SetPolicy(policy Policy) { e.policy = policy }

// Policy returns the active settlement policy.
func (e *Engine) Policy() Policy { return e.policy }

// SetPauses wires the pause view consulted before every mutation.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used for record timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Initialize opens the escrow for gameID with the first contribution. Under
// ReinitOverwrite an existing record, claimed or not, is replaced.
func (e *Engine) Initialize(gameID uint64, white crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount != nil && amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	unlock := e.locks.Lock(gameID)
	defer unlock()

	_, existed, err := e.state.WagerGet(gameID)
	if err != nil {
		return err
	}
	if err := e.checkInitialize(existed); err != nil {
		return err
	}
	now := e.now()
	rec := &Record{
		GameID:      gameID,
		White:       white,
		WhiteAmount: cloneAmount(amount),
		BlackAmount: big.NewInt(0),
		Total:       cloneAmount(amount),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.state.WagerPut(rec); err != nil {
		return err
	}
	e.emit(NewInitializedEvent(rec, existed))
	return nil
}

// Join records the second contribution and recomputes the pooled total.
// Settled escrows reject joins regardless of policy.
func (e *Engine) Join(gameID uint64, black crypto.Address, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount != nil && amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	unlock := e.locks.Lock(gameID)
	defer unlock()

	rec, err := e.load(gameID)
	if err != nil {
		return err
	}
	if err := e.checkJoin(rec); err != nil {
		return err
	}
	replaced := rec.HasBlack()
	player := black
	rec.Black = &player
	rec.BlackAmount = cloneAmount(amount)
	rec.Total = new(big.Int).Add(rec.WhiteAmount, rec.BlackAmount)
	rec.UpdatedAt = e.now()
	if err := e.state.WagerPut(rec); err != nil {
		return err
	}
	e.emit(NewJoinedEvent(rec, replaced))
	return nil
}

// Release settles the escrow in favour of winner and returns the pooled total
// the caller must disburse. It succeeds at most once per game.
func (e *Engine) Release(gameID uint64, winner crypto.Address) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(gameID)
	defer unlock()

	rec, err := e.load(gameID)
	if err != nil {
		return nil, err
	}
	if rec.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if e.policy.RequireMemberWinner && !rec.IsParticipant(winner) {
		return nil, ErrInvalidWinner
	}
	paid := winner
	rec.Claimed = true
	rec.Outcome = OutcomeReleased
	rec.Winner = &paid
	rec.UpdatedAt = e.now()
	if err := e.state.WagerPut(rec); err != nil {
		return nil, err
	}
	e.emit(NewReleasedEvent(rec))
	return cloneAmount(rec.Total), nil
}

// Refund settles the escrow by returning each contribution to its owner. The
// recorded amounts are left untouched.
func (e *Engine) Refund(gameID uint64) (*Refund, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	unlock := e.locks.Lock(gameID)
	defer unlock()

	rec, err := e.load(gameID)
	if err != nil {
		return nil, err
	}
	if rec.Claimed {
		return nil, ErrAlreadyClaimed
	}
	rec.Claimed = true
	rec.Outcome = OutcomeRefunded
	rec.UpdatedAt = e.now()
	if err := e.state.WagerPut(rec); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(rec))

	refund := &Refund{GameID: gameID}
	refund.Payouts = append(refund.Payouts, Payout{Player: rec.White, Amount: cloneAmount(rec.WhiteAmount)})
	if rec.Black != nil {
		refund.Payouts = append(refund.Payouts, Payout{Player: *rec.Black, Amount: cloneAmount(rec.BlackAmount)})
	}
	return refund, nil
}

// Record returns a copy of the escrow for gameID. ok is false when no record
// exists; err is reserved for storage failures.
func (e *Engine) Record(gameID uint64) (*Record, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	rec, ok, err := e.state.WagerGet(gameID)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.Clone(), true, nil
}

// TotalLocked returns the pooled total for gameID, or zero when absent.
func (e *Engine) TotalLocked(gameID uint64) (*big.Int, error) {
	rec, ok, err := e.Record(gameID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return rec.Total, nil
}

// IsClaimed reports whether gameID has been settled. Unknown games are
// reported as unclaimed.
func (e *Engine) IsClaimed(gameID uint64) (bool, error) {
	rec, ok, err := e.Record(gameID)
	if err != nil || !ok {
		return false, err
	}
	return rec.Claimed, nil
}

// List returns the records matching status in ascending game id order.
func (e *Engine) List(status Status) ([]*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var out []*Record
	err := e.state.WagerIterate(func(rec *Record) bool {
		if status.matches(rec) {
			out = append(out, rec.Clone())
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CanInitialize reports the error Initialize would return for gameID given
// the current state, without writing anything.
func (e *Engine) CanInitialize(gameID uint64, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount != nil && amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	_, existed, err := e.state.WagerGet(gameID)
	if err != nil {
		return err
	}
	return e.checkInitialize(existed)
}

// CanJoin reports the error Join would return for gameID given the current
// state, without writing anything.
func (e *Engine) CanJoin(gameID uint64, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	if amount != nil && amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	rec, err := e.load(gameID)
	if err != nil {
		return err
	}
	return e.checkJoin(rec)
}

func (e *Engine) checkInitialize(existed bool) error {
	if existed && e.policy.Reinit == ReinitStrict {
		return ErrGameExists
	}
	return nil
}

func (e *Engine) checkJoin(rec *Record) error {
	if rec.Claimed {
		return ErrAlreadyClaimed
	}
	if rec.HasBlack() && e.policy.Join == JoinStrict {
		return ErrAlreadyJoined
	}
	return nil
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, ModuleName)
}

func (e *Engine) load(gameID uint64) (*Record, error) {
	rec, ok, err := e.state.WagerGet(gameID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrGameNotFound
	}
	return rec.Clone(), nil
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(wagerEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}
