// Package arbiter drives wagers end to end: it moves stakes through the vault
// and records each step in the wager engine.
package arbiter

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"wagerchain/crypto"
	"wagerchain/native/bank"
	nativecommon "wagerchain/native/common"
	"wagerchain/native/wager"
)

// ErrPayoutFailed marks a settlement that was recorded but whose disbursement
// did not complete. The receipt is still persisted for reconciliation.
var ErrPayoutFailed = errors.New("arbiter: payout failed after settlement")

type receiptStore interface {
	KVPut(key []byte, value interface{}) error
	KVGet(key []byte, out interface{}) (bool, error)
}

// Arbiter composes the custody vault with the wager engine.
type Arbiter struct {
	engine   *wager.Engine
	vault    *bank.Vault
	receipts receiptStore
	locks    *nativecommon.KeyLock
	logger   *slog.Logger
}

// New constructs an arbiter. receipts may be nil when settlement receipts do
// not need to be persisted.
func New(engine *wager.Engine, vault *bank.Vault, receipts receiptStore, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Arbiter{
		engine:   engine,
		vault:    vault,
		receipts: receipts,
		locks:    nativecommon.NewKeyLock(),
		logger:   logger,
	}
}

// Engine exposes the underlying wager engine for read-only queries.
func (a *Arbiter) Engine() *wager.Engine { return a.engine }

// InFlight reports how many games have an operation holding or waiting for
// their lock.
func (a *Arbiter) InFlight() int { return a.locks.Len() }

// Vault exposes the custody vault.
func (a *Arbiter) Vault() *bank.Vault { return a.vault }

// Open locks the opening stake and initialises the escrow. Policy and state
// rejections are reported before any funds move. Stakes of an
// unsettled record replaced under the overwrite policy are returned to their
// owners.
func (a *Arbiter) Open(gameID uint64, white crypto.Address, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return wager.ErrInvalidAmount
	}
	unlock := a.locks.Lock(gameID)
	defer unlock()

	if err := a.engine.CanInitialize(gameID, amount); err != nil {
		return err
	}
	previous, _, err := a.engine.Record(gameID)
	if err != nil {
		return err
	}
	if err := a.vault.Lock(white, amount); err != nil {
		return err
	}
	if err := a.engine.Initialize(gameID, white, amount); err != nil {
		a.compensate(gameID, white, amount)
		return err
	}
	if previous != nil && !previous.Claimed {
		a.returnStake(gameID, previous.White, previous.WhiteAmount)
		if previous.Black != nil {
			a.returnStake(gameID, *previous.Black, previous.BlackAmount)
		}
	}
	return nil
}

// Join locks the second stake and records it. A replaced second stake is
// returned to its owner.
func (a *Arbiter) Join(gameID uint64, black crypto.Address, amount *big.Int) error {
	if amount != nil && amount.Sign() < 0 {
		return wager.ErrInvalidAmount
	}
	unlock := a.locks.Lock(gameID)
	defer unlock()

	if err := a.engine.CanJoin(gameID, amount); err != nil {
		return err
	}
	previous, _, err := a.engine.Record(gameID)
	if err != nil {
		return err
	}
	if err := a.vault.Lock(black, amount); err != nil {
		return err
	}
	if err := a.engine.Join(gameID, black, amount); err != nil {
		a.compensate(gameID, black, amount)
		return err
	}
	if previous.Black != nil {
		a.returnStake(gameID, *previous.Black, previous.BlackAmount)
	}
	return nil
}

// Settle releases the pooled total to winner and pays it out.
func (a *Arbiter) Settle(gameID uint64, winner crypto.Address) (*Receipt, error) {
	unlock := a.locks.Lock(gameID)
	defer unlock()

	total, err := a.engine.Release(gameID, winner)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{GameID: gameID, Outcome: wager.OutcomeReleased.String()}
	receipt.Payouts = []wager.Payout{{Player: winner, Amount: total}}
	return a.finish(receipt)
}

// Abandon refunds both stakes.
func (a *Arbiter) Abandon(gameID uint64) (*Receipt, error) {
	unlock := a.locks.Lock(gameID)
	defer unlock()

	refund, err := a.engine.Refund(gameID)
	if err != nil {
		return nil, err
	}
	receipt := &Receipt{GameID: gameID, Outcome: wager.OutcomeRefunded.String(), Payouts: refund.Payouts}
	return a.finish(receipt)
}

// Receipt returns the persisted settlement receipt for gameID.
func (a *Arbiter) Receipt(gameID uint64) (*Receipt, bool, error) {
	if a.receipts == nil {
		return nil, false, nil
	}
	var stored storedReceipt
	ok, err := a.receipts.KVGet(receiptKey(gameID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	receipt, err := stored.receipt()
	if err != nil {
		return nil, false, err
	}
	return receipt, true, nil
}

func (a *Arbiter) finish(receipt *Receipt) (*Receipt, error) {
	var payoutErr error
	for _, payout := range receipt.Payouts {
		if err := a.vault.Disburse(payout.Player, payout.Amount); err != nil {
			a.logger.Error("wager payout failed",
				"gameId", receipt.GameID,
				"player", payout.Player.String(),
				"amount", payout.Amount.String(),
				"error", err)
			payoutErr = errors.Join(payoutErr, err)
		}
	}
	id, err := receipt.computeID()
	if err != nil {
		return nil, err
	}
	receipt.ID = id
	if a.receipts != nil {
		if err := a.receipts.KVPut(receiptKey(receipt.GameID), newStoredReceipt(receipt)); err != nil {
			return nil, err
		}
	}
	if payoutErr != nil {
		return receipt, fmt.Errorf("%w: %v", ErrPayoutFailed, payoutErr)
	}
	a.logger.Info("wager settled",
		"gameId", receipt.GameID,
		"outcome", receipt.Outcome,
		"receipt", receipt.IDHex())
	return receipt, nil
}

func (a *Arbiter) compensate(gameID uint64, player crypto.Address, amount *big.Int) {
	if err := a.vault.Disburse(player, amount); err != nil {
		a.logger.Error("wager stake compensation failed",
			"gameId", gameID,
			"player", player.String(),
			"error", err)
	}
}

func (a *Arbiter) returnStake(gameID uint64, player crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	if err := a.vault.Disburse(player, amount); err != nil {
		a.logger.Error("wager replaced stake not returned",
			"gameId", gameID,
			"player", player.String(),
			"error", err)
		return
	}
	a.logger.Warn("wager stake replaced and returned",
		"gameId", gameID,
		"player", player.String(),
		"amount", amount.String())
}

// Receipt documents a settlement and the payouts made for it.
type Receipt struct {
	ID      [32]byte
	GameID  uint64
	Outcome string
	Payouts []wager.Payout
}

// IDHex returns the receipt id as lowercase hex.
func (r *Receipt) IDHex() string { return hex.EncodeToString(r.ID[:]) }

// Total sums the receipt payouts.
func (r *Receipt) Total() *big.Int {
	refund := wager.Refund{GameID: r.GameID, Payouts: r.Payouts}
	return refund.Total()
}

type storedPayout struct {
	Player []byte
	Amount *big.Int
}

type storedReceipt struct {
	ID      [32]byte
	GameID  uint64
	Outcome string
	Payouts []storedPayout
}

func newStoredReceipt(r *Receipt) *storedReceipt {
	stored := &storedReceipt{ID: r.ID, GameID: r.GameID, Outcome: r.Outcome}
	for _, p := range r.Payouts {
		amount := p.Amount
		if amount == nil {
			amount = big.NewInt(0)
		}
		stored.Payouts = append(stored.Payouts, storedPayout{Player: p.Player.Bytes(), Amount: amount})
	}
	return stored
}

func (s *storedReceipt) receipt() (*Receipt, error) {
	r := &Receipt{ID: s.ID, GameID: s.GameID, Outcome: s.Outcome}
	for _, p := range s.Payouts {
		if len(p.Player) != crypto.AddressLength {
			return nil, fmt.Errorf("arbiter: receipt %d has malformed payout address", s.GameID)
		}
		r.Payouts = append(r.Payouts, wager.Payout{Player: crypto.BytesToAddress(p.Player), Amount: p.Amount})
	}
	return r, nil
}

// computeID hashes the canonical encoding of the receipt without its id.
func (r *Receipt) computeID() ([32]byte, error) {
	stored := newStoredReceipt(r)
	stored.ID = [32]byte{}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}

func receiptKey(gameID uint64) []byte {
	key := make([]byte, len("wager/receipt/")+8)
	n := copy(key, "wager/receipt/")
	binary.BigEndian.PutUint64(key[n:], gameID)
	return key
}
