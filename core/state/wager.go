package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"wagerchain/crypto"
	"wagerchain/native/wager"
)

// Wager records are stored under an unhashed, big-endian keyed prefix so they
// can be iterated in game id order.
var wagerRecordPrefix = []byte("wager/record/")

type storedWager struct {
	GameID      uint64
	White       []byte
	Black       []byte
	WhiteAmount *big.Int
	BlackAmount *big.Int
	Total       *big.Int
	Claimed     bool
	Outcome     uint8
	Winner      []byte
	CreatedAt   uint64
	UpdatedAt   uint64
}

func wagerKey(gameID uint64) []byte {
	key := make([]byte, len(wagerRecordPrefix)+8)
	copy(key, wagerRecordPrefix)
	binary.BigEndian.PutUint64(key[len(wagerRecordPrefix):], gameID)
	return key
}

func optionalAddress(addr *crypto.Address) []byte {
	if addr == nil {
		return nil
	}
	return addr.Bytes()
}

func decodeOptionalAddress(raw []byte) (*crypto.Address, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) != crypto.AddressLength {
		return nil, fmt.Errorf("wager: invalid address length %d", len(raw))
	}
	addr := crypto.BytesToAddress(raw)
	return &addr, nil
}

func nonNegative(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// WagerPut validates and persists the record.
func (m *Manager) WagerPut(rec *wager.Record) error {
	sanitized, err := wager.SanitizeRecord(rec)
	if err != nil {
		return err
	}
	stored := storedWager{
		GameID:      sanitized.GameID,
		White:       sanitized.White.Bytes(),
		Black:       optionalAddress(sanitized.Black),
		WhiteAmount: sanitized.WhiteAmount,
		BlackAmount: sanitized.BlackAmount,
		Total:       sanitized.Total,
		Claimed:     sanitized.Claimed,
		Outcome:     uint8(sanitized.Outcome),
		Winner:      optionalAddress(sanitized.Winner),
		CreatedAt:   nonNegative(sanitized.CreatedAt),
		UpdatedAt:   nonNegative(sanitized.UpdatedAt),
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	return m.db.Put(wagerKey(rec.GameID), encoded)
}

// WagerGet loads the record for gameID.
func (m *Manager) WagerGet(gameID uint64) (*wager.Record, bool, error) {
	data, ok, err := m.get(wagerKey(gameID))
	if err != nil || !ok {
		return nil, false, err
	}
	rec, err := decodeWager(data)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// WagerIterate visits every stored record in ascending game id order until fn
// returns false.
func (m *Manager) WagerIterate(fn func(*wager.Record) bool) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	var decodeErr error
	err := m.db.Iterate(wagerRecordPrefix, func(_, value []byte) bool {
		rec, err := decodeWager(value)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(rec)
	})
	if err != nil {
		return err
	}
	return decodeErr
}

func decodeWager(data []byte) (*wager.Record, error) {
	var stored storedWager
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, err
	}
	if len(stored.White) != crypto.AddressLength {
		return nil, fmt.Errorf("wager %d: invalid white address", stored.GameID)
	}
	black, err := decodeOptionalAddress(stored.Black)
	if err != nil {
		return nil, err
	}
	winner, err := decodeOptionalAddress(stored.Winner)
	if err != nil {
		return nil, err
	}
	rec := &wager.Record{
		GameID:      stored.GameID,
		White:       crypto.BytesToAddress(stored.White),
		Black:       black,
		WhiteAmount: stored.WhiteAmount,
		BlackAmount: stored.BlackAmount,
		Total:       stored.Total,
		Claimed:     stored.Claimed,
		Outcome:     wager.Outcome(stored.Outcome),
		Winner:      winner,
		CreatedAt:   int64(stored.CreatedAt),
		UpdatedAt:   int64(stored.UpdatedAt),
	}
	return wager.SanitizeRecord(rec)
}
