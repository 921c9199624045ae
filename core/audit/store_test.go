package audit

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"

	"wagerchain/core/state"
	"wagerchain/crypto"
	"wagerchain/native/wager"
	"wagerchain/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := NewStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testAddress(fill byte) crypto.Address {
	return crypto.BytesToAddress(bytes.Repeat([]byte{fill}, crypto.AddressLength))
}

func newAuditedEngine(t *testing.T, store *Store) *wager.Engine {
	t.Helper()
	engine := wager.NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	engine.SetEmitter(store)
	return engine
}

func TestSinkRecordsEngineEvents(t *testing.T) {
	store := setupTestStore(t)
	engine := newAuditedEngine(t, store)
	white, black := testAddress(0x01), testAddress(0x02)

	require.NoError(t, engine.Initialize(1, white, big.NewInt(1000)))
	require.NoError(t, engine.Join(1, black, big.NewInt(1000)))
	_, err := engine.Release(1, white)
	require.NoError(t, err)
	require.NoError(t, engine.Initialize(2, black, big.NewInt(5)))

	history, err := store.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, wager.EventTypeWagerInitialized, history[0].Type)
	require.Equal(t, wager.EventTypeWagerJoined, history[1].Type)
	require.Equal(t, wager.EventTypeWagerReleased, history[2].Type)
	require.Equal(t, "2000", history[2].Total)
	require.Equal(t, white.String(), history[2].Winner)
	require.Equal(t, "released", history[2].Outcome)
	require.NotEqual(t, uuid.Nil, history[0].ID)

	attrs, err := history[1].Decode()
	require.NoError(t, err)
	require.Equal(t, black.String(), attrs["black"])

	recent, err := store.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, uint64(2), recent[0].GameID)
}

func TestSequenceResumesAfterReopen(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	first, err := NewStore(db, nil)
	require.NoError(t, err)
	engine := newAuditedEngine(t, first)
	require.NoError(t, engine.Initialize(9, testAddress(0x01), big.NewInt(1)))

	second, err := NewStore(db, nil)
	require.NoError(t, err)
	engine.SetEmitter(second)
	_, err = engine.Refund(9)
	require.NoError(t, err)

	history, err := second.History(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Less(t, history[0].Sequence, history[1].Sequence)
	require.NoError(t, first.Close())
}

func TestRecordRejectsEventWithoutGame(t *testing.T) {
	store := setupTestStore(t)
	err := store.Record(context.Background(), wager.NewInitializedEvent(nil, false))
	require.Error(t, err)
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "dsn", nil)
	require.Error(t, err)
	_, err = Open("postgres", "", nil)
	require.Error(t, err)
}

func TestExportParquet(t *testing.T) {
	engine := wager.NewEngine()
	engine.SetState(state.NewManager(storage.NewMemDB()))
	require.NoError(t, engine.Initialize(1, testAddress(0x01), big.NewInt(10)))
	require.NoError(t, engine.Join(1, testAddress(0x02), big.NewInt(15)))
	require.NoError(t, engine.Initialize(2, testAddress(0x03), big.NewInt(7)))
	_, err := engine.Refund(2)
	require.NoError(t, err)

	records, err := engine.List(wager.StatusAll)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "wagers.parquet")
	require.NoError(t, ExportParquet(path, records))

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(parquetRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(2), pr.GetNumRows())

	rows := make([]parquetRecord, 2)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, int64(1), rows[0].GameID)
	require.Equal(t, "25", rows[0].Total)
	require.Equal(t, testAddress(0x02).String(), rows[0].Black)
	require.True(t, rows[1].Claimed)
	require.Equal(t, "refunded", rows[1].Outcome)
}
