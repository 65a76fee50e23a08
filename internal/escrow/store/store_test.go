package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func sampleRecord() *model.EscrowRecord {
	return &model.EscrowRecord{
		Player1:    "alice",
		Player2:    "bob",
		Wager:      500_000,
		GameID:     []byte("g1"),
		Status:     model.EscrowActive,
		CreatedAt:  1700000000,
		LastMoveAt: 1700000100,
		Creator:    "alice",
		Funded:     true,
		Nonce:      "5f0c1c8e",
		Version:    1,
	}
}

func newRedisTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st := NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { st.Close() })
	return st, mr
}

func testStore(t *testing.T, st Store) {
	ctx := context.Background()

	_, err := st.Load(ctx, "s1")
	require.True(t, errors.Is(err, ErrRecordNotFound))

	rec := sampleRecord()
	require.NoError(t, st.Save(ctx, "s1", rec))

	loaded, err := st.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, rec, loaded)

	loaded.Player2 = "carol"
	again, err := st.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, model.Identity("bob"), again.Player2)

	rec.Status = model.EscrowComplete
	rec.Winner = "bob"
	rec.Paid = true
	rec.Payout = &model.Payout{Receiver: "bob", Amount: 999_000, Reason: model.PayoutClaim}
	rec.Version = 2
	require.NoError(t, st.Save(ctx, "s1", rec))
	loaded, err = st.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, rec, loaded)

	_, err = st.Load(ctx, "s2")
	require.True(t, errors.Is(err, ErrRecordNotFound))

	require.True(t, errors.Is(st.Remove(ctx, "s1", 1), ErrVersionConflict))
	require.NoError(t, st.Remove(ctx, "s1", 2))
	_, err = st.Load(ctx, "s1")
	require.True(t, errors.Is(err, ErrRecordNotFound))
	require.NoError(t, st.Remove(ctx, "s1", 2))

	require.Error(t, st.Save(ctx, "s1", nil))
	unversioned := sampleRecord()
	unversioned.Version = 0
	require.Error(t, st.Save(ctx, "s1", unversioned))
}

// testStoreVersionConflicts covers two writers that loaded the same version.
func testStoreVersionConflicts(t *testing.T, st Store) {
	ctx := context.Background()
	require.NoError(t, st.Save(ctx, "s1", sampleRecord()))

	tests := []struct {
		name    string
		version uint64
	}{
		{"second create", 1},
		{"stale version", 2},
		{"skipped version", 4},
	}

	first := sampleRecord()
	first.Version = 2
	first.LastMoveAt++
	require.NoError(t, st.Save(ctx, "s1", first))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stale := sampleRecord()
			stale.Version = tt.version
			err := st.Save(ctx, "s1", stale)
			require.True(t, errors.Is(err, ErrVersionConflict), "got %v", err)
		})
	}

	loaded, err := st.Load(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, first, loaded)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
	testStoreVersionConflicts(t, NewMemoryStore())
}

func TestRedisStore(t *testing.T) {
	st, _ := newRedisTestStore(t)
	testStore(t, st)

	other, _ := newRedisTestStore(t)
	testStoreVersionConflicts(t, other)
}

func TestRedisStoreLayout(t *testing.T) {
	st, mr := newRedisTestStore(t)
	require.NoError(t, st.Save(context.Background(), "s1", sampleRecord()))

	require.True(t, mr.Exists("escrow:s1"))
	require.Equal(t, "1", mr.HGet("escrow:s1", model.KeyStatus))
	require.Equal(t, "6731", mr.HGet("escrow:s1", model.KeyGameID))
	require.Equal(t, "1", mr.HGet("escrow:s1", model.KeyFunded))
	require.Equal(t, "0", mr.HGet("escrow:s1", model.KeyPaid))
	require.Equal(t, "", mr.HGet("escrow:s1", model.KeyWinner))
	require.Equal(t, "1", mr.HGet("escrow:s1", model.KeyVersion))
	require.Equal(t, "5f0c1c8e", mr.HGet("escrow:s1", model.KeyNonce))
}

func TestRedisStoreCorruptRecord(t *testing.T) {
	st, mr := newRedisTestStore(t)
	mr.HSet("escrow:s1", model.KeyPlayer1, "alice")

	_, err := st.Load(context.Background(), "s1")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrRecordNotFound))
}
