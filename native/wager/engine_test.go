package wager

import (
	"bytes"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"

	"wagerchain/core/events"
	"wagerchain/crypto"
	nativecommon "wagerchain/native/common"
)

type mockState struct {
	mu      sync.Mutex
	records map[uint64]*Record
	failPut error
}

func newMockState() *mockState {
	return &mockState{records: make(map[uint64]*Record)}
}

func (m *mockState) WagerPut(r *Record) error {
	if m.failPut != nil {
		return m.failPut
	}
	sanitized, err := SanitizeRecord(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.records[r.GameID] = sanitized
	m.mu.Unlock()
	return nil
}

func (m *mockState) WagerGet(id uint64) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	return rec.Clone(), true, nil
}

func (m *mockState) WagerIterate(fn func(*Record) bool) error {
	m.mu.Lock()
	ids := make([]uint64, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rec, _, _ := m.WagerGet(id)
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

func newTestAddress(fill byte) crypto.Address {
	return crypto.BytesToAddress(bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

var (
	white = newTestAddress(0x11)
	black = newTestAddress(0x22)
	other = newTestAddress(0x33)
)

func newTestEngine(t *testing.T, policy Policy) (*Engine, *mockState, *events.Recorder) {
	t.Helper()
	state := newMockState()
	rec := &events.Recorder{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(rec)
	engine.SetPolicy(policy)
	engine.SetNowFunc(func() int64 { return 1700000000 })
	return engine, state, rec
}

func requireCode(t *testing.T, err error, code uint32) {
	t.Helper()
	got, ok := CodeOf(err)
	if !ok || got != code {
		t.Fatalf("expected code %d, got %v", code, err)
	}
}

func checkTotals(t *testing.T, state *mockState) {
	t.Helper()
	for id, rec := range state.records {
		sum := new(big.Int).Add(rec.WhiteAmount, rec.BlackAmount)
		if sum.Cmp(rec.Total) != 0 {
			t.Fatalf("game %d: total %s != %s", id, rec.Total, sum)
		}
	}
}

func TestReleaseAfterJoin(t *testing.T) {
	engine, state, _ := newTestEngine(t, Policy{})
	if err := engine.Initialize(1, white, big.NewInt(1000)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	rec, ok, err := engine.Record(1)
	if err != nil || !ok {
		t.Fatalf("record: ok=%v err=%v", ok, err)
	}
	if rec.Total.Int64() != 1000 || rec.Black != nil || rec.Claimed {
		t.Fatalf("unexpected record after initialize: %+v", rec)
	}
	if err := engine.Join(1, black, big.NewInt(1000)); err != nil {
		t.Fatalf("join: %v", err)
	}
	checkTotals(t, state)
	total, err := engine.TotalLocked(1)
	if err != nil || total.Int64() != 2000 {
		t.Fatalf("expected total 2000, got %v (%v)", total, err)
	}
	paid, err := engine.Release(1, white)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if paid.Int64() != 2000 {
		t.Fatalf("expected release of 2000, got %s", paid)
	}
	claimed, err := engine.IsClaimed(1)
	if err != nil || !claimed {
		t.Fatalf("expected claimed game, got %v (%v)", claimed, err)
	}
	_, err = engine.Release(1, black)
	if !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
	requireCode(t, err, CodeAlreadyClaimed)
}

func TestSettledGameRejectsEveryOperation(t *testing.T) {
	settle := map[string]func(*Engine) error{
		"release": func(e *Engine) error {
			_, err := e.Release(4, white)
			return err
		},
		"refund": func(e *Engine) error {
			_, err := e.Refund(4)
			return err
		},
	}
	for name, first := range settle {
		t.Run(name, func(t *testing.T) {
			engine, state, rec := newTestEngine(t, Policy{})
			if err := engine.Initialize(4, white, big.NewInt(400)); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			if err := engine.Join(4, black, big.NewInt(100)); err != nil {
				t.Fatalf("join: %v", err)
			}
			if err := first(engine); err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			before, _, _ := engine.Record(4)
			emitted := len(rec.Events())

			_, err := engine.Release(4, black)
			requireCode(t, err, CodeAlreadyClaimed)
			_, err = engine.Refund(4)
			requireCode(t, err, CodeAlreadyClaimed)
			err = engine.Join(4, black, big.NewInt(50))
			requireCode(t, err, CodeAlreadyClaimed)

			after, _, _ := engine.Record(4)
			if after.Outcome != before.Outcome || after.Total.Cmp(before.Total) != 0 {
				t.Fatalf("rejected calls changed the record: %+v -> %+v", before, after)
			}
			if len(rec.Events()) != emitted {
				t.Fatalf("rejected calls must not emit events")
			}
			checkTotals(t, state)
		})
	}
}

func TestJoinUnknownGame(t *testing.T) {
	engine, _, rec := newTestEngine(t, Policy{})
	err := engine.Join(999, black, big.NewInt(500))
	requireCode(t, err, CodeGameNotFound)
	if len(rec.Events()) != 0 {
		t.Fatalf("failed join must not emit events")
	}
}

func TestMutationsOnUnknownGame(t *testing.T) {
	engine, _, _ := newTestEngine(t, StrictPolicy())
	if _, err := engine.Release(5, white); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("release: expected not found, got %v", err)
	}
	if _, err := engine.Refund(5); !errors.Is(err, ErrGameNotFound) {
		t.Fatalf("refund: expected not found, got %v", err)
	}
}

func TestRefundKeepsAmounts(t *testing.T) {
	engine, state, _ := newTestEngine(t, Policy{})
	if err := engine.Initialize(2, white, big.NewInt(300)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Join(2, black, big.NewInt(300)); err != nil {
		t.Fatalf("join: %v", err)
	}
	refund, err := engine.Refund(2)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if len(refund.Payouts) != 2 {
		t.Fatalf("expected two payouts, got %d", len(refund.Payouts))
	}
	if refund.Payouts[0].Player != white || refund.Payouts[0].Amount.Int64() != 300 {
		t.Fatalf("unexpected white payout: %+v", refund.Payouts[0])
	}
	if refund.Payouts[1].Player != black || refund.Payouts[1].Amount.Int64() != 300 {
		t.Fatalf("unexpected black payout: %+v", refund.Payouts[1])
	}
	if refund.Total().Int64() != 600 {
		t.Fatalf("expected refund total 600, got %s", refund.Total())
	}
	claimed, _ := engine.IsClaimed(2)
	if !claimed {
		t.Fatalf("expected claimed after refund")
	}
	total, _ := engine.TotalLocked(2)
	if total.Int64() != 600 {
		t.Fatalf("refund must not zero amounts, got %s", total)
	}
	checkTotals(t, state)

	if _, err := engine.Refund(2); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("second refund: expected already claimed, got %v", err)
	}
	if _, err := engine.Release(2, white); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("release after refund: expected already claimed, got %v", err)
	}
}

func TestRefundWithoutJoin(t *testing.T) {
	engine, _, _ := newTestEngine(t, Policy{})
	if err := engine.Initialize(3, black, big.NewInt(200)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	rec, ok, _ := engine.Record(3)
	if !ok || rec.Black != nil || rec.Claimed {
		t.Fatalf("unexpected record: %+v", rec)
	}
	total, _ := engine.TotalLocked(3)
	if total.Int64() != 200 {
		t.Fatalf("expected 200 locked, got %s", total)
	}
	refund, err := engine.Refund(3)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if len(refund.Payouts) != 1 || refund.Payouts[0].Player != black {
		t.Fatalf("expected single payout to the opener, got %+v", refund.Payouts)
	}
}

func TestQueriesOnUnknownGame(t *testing.T) {
	engine, _, _ := newTestEngine(t, Policy{})
	rec, ok, err := engine.Record(42)
	if err != nil || ok || rec != nil {
		t.Fatalf("expected absent record, got %v %v %v", rec, ok, err)
	}
	total, err := engine.TotalLocked(42)
	if err != nil || total.Sign() != 0 {
		t.Fatalf("expected zero total, got %v (%v)", total, err)
	}
	claimed, err := engine.IsClaimed(42)
	if err != nil || claimed {
		t.Fatalf("expected unclaimed, got %v (%v)", claimed, err)
	}
}

func TestOverwritePolicy(t *testing.T) {
	engine, state, rec := newTestEngine(t, Policy{})
	if err := engine.Initialize(7, white, big.NewInt(10)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Join(7, black, big.NewInt(10)); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := engine.Join(7, other, big.NewInt(4)); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	stored, _, _ := engine.Record(7)
	if *stored.Black != other || stored.Total.Int64() != 14 {
		t.Fatalf("expected overwritten join, got %+v", stored)
	}
	if err := engine.Initialize(7, other, big.NewInt(1)); err != nil {
		t.Fatalf("reinitialize: %v", err)
	}
	stored, _, _ = engine.Record(7)
	if stored.White != other || stored.Black != nil || stored.Total.Int64() != 1 {
		t.Fatalf("expected fresh record, got %+v", stored)
	}
	checkTotals(t, state)

	evts := rec.Events()
	if evts[2].Attr("replaced") != "true" || evts[3].Attr("replaced") != "true" {
		t.Fatalf("expected overwrite events to be flagged: %+v", evts)
	}
	if evts[0].Attr("replaced") != "" {
		t.Fatalf("first initialise must not be flagged as replaced")
	}
}

func TestStrictPolicyRejectsOverwrites(t *testing.T) {
	engine, _, _ := newTestEngine(t, StrictPolicy())
	if err := engine.Initialize(8, white, big.NewInt(10)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	requireCode(t, engine.Initialize(8, other, big.NewInt(1)), CodeGameExists)
	if err := engine.Join(8, black, big.NewInt(10)); err != nil {
		t.Fatalf("join: %v", err)
	}
	requireCode(t, engine.Join(8, other, big.NewInt(1)), CodeAlreadyJoined)

	stored, _, _ := engine.Record(8)
	if stored.White != white || *stored.Black != black || stored.Total.Int64() != 20 {
		t.Fatalf("strict policy must leave the record untouched: %+v", stored)
	}
	if _, err := engine.Release(8, black); err != nil {
		t.Fatalf("release: %v", err)
	}
	requireCode(t, engine.Initialize(8, white, big.NewInt(1)), CodeGameExists)
}

func TestJoinRejectsClaimedRecord(t *testing.T) {
	engine, _, _ := newTestEngine(t, Policy{})
	if err := engine.Initialize(9, white, big.NewInt(10)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := engine.Refund(9); err != nil {
		t.Fatalf("refund: %v", err)
	}
	requireCode(t, engine.Join(9, black, big.NewInt(10)), CodeAlreadyClaimed)
}

func TestMemberWinnerCheck(t *testing.T) {
	engine, _, _ := newTestEngine(t, Policy{RequireMemberWinner: true})
	if err := engine.Initialize(10, white, big.NewInt(5)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Join(10, black, big.NewInt(5)); err != nil {
		t.Fatalf("join: %v", err)
	}
	_, err := engine.Release(10, other)
	requireCode(t, err, CodeInvalidWinner)
	claimed, _ := engine.IsClaimed(10)
	if claimed {
		t.Fatalf("rejected release must not claim the escrow")
	}
	if _, err := engine.Release(10, black); err != nil {
		t.Fatalf("release to participant: %v", err)
	}

	permissive, _, _ := newTestEngine(t, Policy{})
	if err := permissive.Initialize(11, white, big.NewInt(5)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, err := permissive.Release(11, other); err != nil {
		t.Fatalf("permissive policy should accept any winner: %v", err)
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	engine, _, _ := newTestEngine(t, Policy{})
	requireCode(t, engine.Initialize(12, white, big.NewInt(-1)), CodeInvalidAmount)
	if err := engine.Initialize(12, white, nil); err != nil {
		t.Fatalf("nil amount should be treated as zero: %v", err)
	}
	requireCode(t, engine.Join(12, black, big.NewInt(-5)), CodeInvalidAmount)
}

func TestConcurrentReleaseSettlesOnce(t *testing.T) {
	engine, _, rec := newTestEngine(t, Policy{})
	if err := engine.Initialize(13, white, big.NewInt(50)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Join(13, black, big.NewInt(50)); err != nil {
		t.Fatalf("join: %v", err)
	}
	const workers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, claimed := 0, 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = engine.Release(13, white)
			} else {
				_, err = engine.Refund(13)
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyClaimed):
				claimed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if successes != 1 || claimed != workers-1 {
		t.Fatalf("expected exactly one settlement, got %d successes and %d rejections", successes, claimed)
	}
	settled := 0
	for _, typ := range rec.Types() {
		if typ == EventTypeWagerReleased || typ == EventTypeWagerRefunded {
			settled++
		}
	}
	if settled != 1 {
		t.Fatalf("expected one settlement event, got %d", settled)
	}
}

func TestPausedEngineRejectsMutations(t *testing.T) {
	engine, _, _ := newTestEngine(t, Policy{})
	pauses := nativecommon.NewPauses(ModuleName)
	engine.SetPauses(pauses)
	if err := engine.Initialize(14, white, big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	pauses.Set(ModuleName, false)
	if err := engine.Initialize(14, white, big.NewInt(1)); err != nil {
		t.Fatalf("initialize after resume: %v", err)
	}
}

func TestStorageFailureLeavesRecordIntact(t *testing.T) {
	engine, state, rec := newTestEngine(t, Policy{})
	if err := engine.Initialize(15, white, big.NewInt(9)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	state.failPut = errors.New("disk full")
	if _, err := engine.Release(15, white); err == nil {
		t.Fatalf("expected storage error")
	}
	state.failPut = nil
	claimed, _ := engine.IsClaimed(15)
	if claimed {
		t.Fatalf("failed write must not claim the escrow")
	}
	if len(rec.Events()) != 1 {
		t.Fatalf("failed write must not emit events")
	}
}

func TestListFiltersByStatus(t *testing.T) {
	engine, _, _ := newTestEngine(t, Policy{})
	for id := uint64(1); id <= 3; id++ {
		if err := engine.Initialize(id, white, big.NewInt(int64(id))); err != nil {
			t.Fatalf("initialize %d: %v", id, err)
		}
	}
	if _, err := engine.Refund(2); err != nil {
		t.Fatalf("refund: %v", err)
	}
	open, err := engine.List(StatusOpen)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(open) != 2 || open[0].GameID != 1 || open[1].GameID != 3 {
		t.Fatalf("unexpected open records: %+v", open)
	}
	settled, _ := engine.List(StatusSettled)
	if len(settled) != 1 || settled[0].GameID != 2 {
		t.Fatalf("unexpected settled records: %+v", settled)
	}
	all, _ := engine.List(StatusAll)
	if len(all) != 3 {
		t.Fatalf("expected three records, got %d", len(all))
	}
}

func TestEngineWithoutState(t *testing.T) {
	engine := NewEngine()
	if err := engine.Initialize(1, white, big.NewInt(1)); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil state error, got %v", err)
	}
	if _, _, err := engine.Record(1); !errors.Is(err, errNilState) {
		t.Fatalf("expected nil state error, got %v", err)
	}
}

func TestPrechecksMatchMutations(t *testing.T) {
	engine, _, rec := newTestEngine(t, StrictPolicy())
	if err := engine.CanInitialize(6, big.NewInt(10)); err != nil {
		t.Fatalf("fresh game should be open: %v", err)
	}
	requireCode(t, engine.CanInitialize(6, big.NewInt(-1)), CodeInvalidAmount)
	requireCode(t, engine.CanJoin(6, big.NewInt(10)), CodeGameNotFound)

	if err := engine.Initialize(6, white, big.NewInt(10)); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	requireCode(t, engine.CanInitialize(6, big.NewInt(10)), CodeGameExists)
	if err := engine.CanJoin(6, big.NewInt(10)); err != nil {
		t.Fatalf("join should be allowed: %v", err)
	}
	if err := engine.Join(6, black, big.NewInt(10)); err != nil {
		t.Fatalf("join: %v", err)
	}
	requireCode(t, engine.CanJoin(6, big.NewInt(10)), CodeAlreadyJoined)
	if _, err := engine.Refund(6); err != nil {
		t.Fatalf("refund: %v", err)
	}
	requireCode(t, engine.CanJoin(6, big.NewInt(10)), CodeAlreadyClaimed)
	if len(rec.Events()) != 3 {
		t.Fatalf("prechecks must not emit events, got %v", rec.Types())
	}
}
