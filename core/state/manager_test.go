package state

import (
	"bytes"
	"math/big"
	"path/filepath"
	"testing"

	"wagerchain/crypto"
	"wagerchain/native/wager"
	"wagerchain/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	return NewManager(db)
}

func testAddress(fill byte) crypto.Address {
	return crypto.BytesToAddress(bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

func TestWagerRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	black := testAddress(0x02)
	winner := black
	rec := &wager.Record{
		GameID:      77,
		White:       testAddress(0x01),
		Black:       &black,
		WhiteAmount: big.NewInt(500),
		BlackAmount: big.NewInt(700),
		Total:       big.NewInt(1200),
		Claimed:     true,
		Outcome:     wager.OutcomeReleased,
		Winner:      &winner,
		CreatedAt:   1700000000,
		UpdatedAt:   1700000100,
	}
	if err := mgr.WagerPut(rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := mgr.WagerGet(77)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.White != rec.White || *got.Black != black || *got.Winner != winner {
		t.Fatalf("unexpected addresses: %+v", got)
	}
	if got.Total.Cmp(rec.Total) != 0 || got.Outcome != wager.OutcomeReleased || !got.Claimed {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.CreatedAt != rec.CreatedAt || got.UpdatedAt != rec.UpdatedAt {
		t.Fatalf("timestamps not preserved: %+v", got)
	}
}

func TestWagerOptionalFieldsStayAbsent(t *testing.T) {
	mgr := newTestManager(t)
	if err := mgr.WagerPut(&wager.Record{GameID: 3, White: testAddress(0x09), WhiteAmount: big.NewInt(200), Total: big.NewInt(200)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := mgr.WagerGet(3)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Black != nil || got.Winner != nil || got.BlackAmount.Sign() != 0 {
		t.Fatalf("expected no second player, got %+v", got)
	}
	if _, ok, err := mgr.WagerGet(4); ok || err != nil {
		t.Fatalf("expected missing record, got ok=%v err=%v", ok, err)
	}
}

func TestWagerPutRejectsBrokenTotal(t *testing.T) {
	mgr := newTestManager(t)
	err := mgr.WagerPut(&wager.Record{GameID: 1, White: testAddress(0x01), WhiteAmount: big.NewInt(5), Total: big.NewInt(6)})
	if err == nil {
		t.Fatalf("expected total mismatch to be rejected")
	}
}

func TestWagerIterateOrdersByGameID(t *testing.T) {
	mgr := newTestManager(t)
	for _, id := range []uint64{300, 2, 1 << 40, 17} {
		if err := mgr.WagerPut(&wager.Record{GameID: id, White: testAddress(0x01), Total: big.NewInt(0)}); err != nil {
			t.Fatalf("put %d: %v", id, err)
		}
	}
	var ids []uint64
	if err := mgr.WagerIterate(func(r *wager.Record) bool {
		ids = append(ids, r.GameID)
		return true
	}); err != nil {
		t.Fatalf("iterate: %v", err)
	}
	want := []uint64{2, 17, 300, 1 << 40}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestWagerEngineOnLevelDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	engine := wager.NewEngine()
	engine.SetState(NewManager(db))
	if err := engine.Initialize(1, testAddress(0x01), big.NewInt(1000)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Join(1, testAddress(0x02), big.NewInt(1000)); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err = storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer db.Close()
	engine.SetState(NewManager(db))
	total, err := engine.Release(1, testAddress(0x01))
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if total.Int64() != 2000 {
		t.Fatalf("expected 2000 released, got %s", total)
	}
	if _, err := engine.Release(1, testAddress(0x02)); err == nil {
		t.Fatalf("expected second release to fail")
	}
}

func TestBalances(t *testing.T) {
	mgr := newTestManager(t)
	addr := testAddress(0x05).Bytes()
	balance, err := mgr.BalanceGet(addr)
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("expected zero balance, got %v (%v)", balance, err)
	}
	if err := mgr.BalancePut(addr, big.NewInt(42)); err != nil {
		t.Fatalf("put balance: %v", err)
	}
	balance, _ = mgr.BalanceGet(addr)
	if balance.Int64() != 42 {
		t.Fatalf("expected 42, got %s", balance)
	}
	if err := mgr.BalancePut(addr, big.NewInt(-1)); err == nil {
		t.Fatalf("expected negative balance to be rejected")
	}
}

func TestKVRoundTrip(t *testing.T) {
	mgr := newTestManager(t)
	type entry struct {
		Name  string
		Value uint64
	}
	if err := mgr.KVPut([]byte("receipt/1"), entry{Name: "a", Value: 9}); err != nil {
		t.Fatalf("kv put: %v", err)
	}
	var out entry
	ok, err := mgr.KVGet([]byte("receipt/1"), &out)
	if err != nil || !ok || out.Value != 9 || out.Name != "a" {
		t.Fatalf("unexpected kv result %+v ok=%v err=%v", out, ok, err)
	}
	if ok, _ := mgr.KVGet([]byte("receipt/2"), &out); ok {
		t.Fatalf("expected missing key")
	}
	if err := mgr.KVPut(nil, 1); err == nil {
		t.Fatalf("expected empty key error")
	}
}
