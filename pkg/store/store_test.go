package store

import (
	"database/sql"
	"math/big"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddStore_Conservation(t *testing.T) {
	s := NewAddStore("pool_metrics")
	key := Key("group_pool_metric", "0xaa", "total_principal_tokens_committed")

	s.Add(key, big.NewInt(100))
	s.Add(key, big.NewInt(250))
	s.Add(key, big.NewInt(-50))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(300), got)

	deltas := s.BlockDeltas()
	require.Len(t, deltas, 3)

	// Each delta's New-Old equals the applied amount, first Old is zero.
	assert.Equal(t, big.NewInt(0), deltas[0].Old)
	assert.Equal(t, big.NewInt(100), deltas[0].New)
	assert.Equal(t, big.NewInt(100), deltas[1].Old)
	assert.Equal(t, big.NewInt(350), deltas[1].New)
	assert.Equal(t, big.NewInt(350), deltas[2].Old)
	assert.Equal(t, big.NewInt(300), deltas[2].New)
}

func TestAddStore_ZeroDeltaMaterializesKey(t *testing.T) {
	s := NewAddStore("pool_metrics")
	key := Key("group_pool_metric", "0xaa", "total_interest_collected")

	_, ok := s.Get(key)
	require.False(t, ok)

	s.Add(key, big.NewInt(0))

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(0), got)

	deltas := s.BlockDeltas()
	require.Len(t, deltas, 1)
	assert.Equal(t, big.NewInt(0), deltas[0].Old)
	assert.Equal(t, big.NewInt(0), deltas[0].New)
}

func TestAddStore_DiscardBlock(t *testing.T) {
	s := NewAddStore("pool_metrics")
	key := "group_pool_metric:0xaa:total_principal_tokens_borrowed"

	s.Add(key, big.NewInt(500))
	s.commitBlock()

	s.Add(key, big.NewInt(125))
	got, _ := s.Get(key)
	assert.Equal(t, big.NewInt(625), got)

	s.discardBlock()

	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(500), got)
	assert.Empty(t, s.BlockDeltas())
}

func TestAddStore_GetReturnsCopy(t *testing.T) {
	s := NewAddStore("pool_metrics")
	s.Add("k", big.NewInt(10))

	got, _ := s.Get("k")
	got.SetInt64(999)

	again, _ := s.Get("k")
	assert.Equal(t, big.NewInt(10), again)
}

func TestSetStore_LastWriteWins(t *testing.T) {
	s := NewSetStore("globals")

	s.Set("latest_block_number", big.NewInt(100))
	s.Set("latest_block_number", big.NewInt(101))

	got, ok := s.Get("latest_block_number")
	require.True(t, ok)
	assert.Equal(t, big.NewInt(101), got)

	deltas := s.BlockDeltas()
	require.Len(t, deltas, 2)
	assert.Equal(t, big.NewInt(100), deltas[1].Old)
	assert.Equal(t, big.NewInt(101), deltas[1].New)
}

func TestSetStore_Keys(t *testing.T) {
	s := NewSetStore("registered_pools")
	s.Set("a", big.NewInt(1))
	s.commitBlock()
	s.Set("b", big.NewInt(1))
	s.Set("a", big.NewInt(1))

	keys := s.Keys()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
}

func TestStringSetStore(t *testing.T) {
	s := NewStringSetStore("bid_pools")
	key := Key("bid_originated_from_pool", "42")

	_, ok := s.Get(key)
	require.False(t, ok)

	s.Set(key, "0xaa")
	got, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "0xaa", got)

	deltas := s.BlockDeltas()
	require.Len(t, deltas, 1)
	assert.Equal(t, "", deltas[0].Old)
	assert.Equal(t, "0xaa", deltas[0].New)
}

func TestKeyHelpers(t *testing.T) {
	key := Key("group_user_metric", "0xaa", "0xbb", "interaction_count")
	assert.Equal(t, "group_user_metric:0xaa:0xbb:interaction_count", key)

	assert.Equal(t, "group_user_metric", Segment(key, 0))
	assert.Equal(t, "0xbb", Segment(key, 2))
	assert.Equal(t, "interaction_count", Segment(key, 3))
	assert.Equal(t, "", Segment(key, 4))
	assert.Equal(t, "", Segment(key, -1))

	assert.Len(t, Segments(key), 4)
}

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	tmpFile, err := os.CreateTemp(t.TempDir(), "store-test-*.db")
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	db, err := sql.Open("sqlite3", "file:"+tmpFile.Name())
	require.NoError(t, err)

	_, err = db.Exec(`CREATE TABLE store_values (
		store_name TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (store_name, key)
	)`)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestEngine_FlushCommitLoad(t *testing.T) {
	db := setupTestDB(t)

	pools := NewAddStore("pool_metrics")
	globals := NewSetStore("globals")
	bids := NewStringSetStore("bid_pools")

	engine, err := NewEngine(pools, globals, bids)
	require.NoError(t, err)

	pools.Add("group_pool_metric:0xaa:total_interest_collected", big.NewInt(77))
	globals.Set("latest_block_number", big.NewInt(123))
	bids.Set("bid_originated_from_pool:9", "0xaa")

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, engine.Flush(tx))
	require.NoError(t, tx.Commit())
	engine.Commit()

	assert.Empty(t, pools.BlockDeltas())

	// A fresh engine over the same database sees the committed state.
	pools2 := NewAddStore("pool_metrics")
	globals2 := NewSetStore("globals")
	bids2 := NewStringSetStore("bid_pools")
	engine2, err := NewEngine(pools2, globals2, bids2)
	require.NoError(t, err)
	require.NoError(t, engine2.Load(db))

	got, ok := pools2.Get("group_pool_metric:0xaa:total_interest_collected")
	require.True(t, ok)
	assert.Equal(t, big.NewInt(77), got)

	blockNum, ok := globals2.Get("latest_block_number")
	require.True(t, ok)
	assert.Equal(t, big.NewInt(123), blockNum)

	pool, ok := bids2.Get("bid_originated_from_pool:9")
	require.True(t, ok)
	assert.Equal(t, "0xaa", pool)
}

func TestEngine_DiscardLeavesNoTrace(t *testing.T) {
	db := setupTestDB(t)

	pools := NewAddStore("pool_metrics")
	engine, err := NewEngine(pools)
	require.NoError(t, err)

	pools.Add("group_pool_metric:0xaa:total_principal_tokens_repaid", big.NewInt(10))
	engine.Discard()

	_, ok := pools.Get("group_pool_metric:0xaa:total_principal_tokens_repaid")
	assert.False(t, ok)

	tx, err := db.Begin()
	require.NoError(t, err)
	require.NoError(t, engine.Flush(tx))
	require.NoError(t, tx.Commit())

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM store_values`).Scan(&count))
	assert.Zero(t, count)
}

func TestEngine_DuplicateStoreName(t *testing.T) {
	_, err := NewEngine(NewAddStore("dup"), NewSetStore("dup"))
	require.Error(t, err)
}
