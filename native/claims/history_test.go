package claims

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/require"

	"perpstake/crypto"
	"perpstake/storage"
)

func owner(b byte) crypto.Address {
	var a crypto.Address
	a[0] = b
	return a
}

func TestAppendAndPaginate(t *testing.T) {
	h := NewHistory(storage.NewMemDB())
	alice, bob := owner(1), owner(2)
	for i := 0; i < 5; i++ {
		_, err := h.Append(Record{Owner: alice, Caller: alice, Reward: uint64(100 + i), OwnerAmount: uint64(100 + i), Timestamp: int64(i)})
		require.NoError(t, err)
	}
	_, err := h.Append(Record{Owner: bob, Caller: alice, Reward: 7, OwnerAmount: 7})
	require.NoError(t, err)

	page, next, err := h.List(alice, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(0), page[0].Sequence)
	require.Equal(t, uint64(101), page[1].Reward)
	require.Equal(t, "2", next)

	page, next, err = h.List(alice, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(2), page[0].Sequence)

	page, next, err = h.List(alice, next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Empty(t, next)

	bobs, _, err := h.List(bob, "", 0)
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	require.Equal(t, alice, bobs[0].Caller)
	require.NotEmpty(t, bobs[0].ID)
	require.Equal(t, Checksum(bobs[0]), bobs[0].Checksum)
}

func TestListRejectsBadCursor(t *testing.T) {
	h := NewHistory(storage.NewMemDB())
	if _, _, err := h.List(owner(1), "abc", 10); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestTamperedRecordFailsChecksum(t *testing.T) {
	db := storage.NewMemDB()
	h := NewHistory(db)
	rec, err := h.Append(Record{Owner: owner(1), Reward: 10, OwnerAmount: 10})
	require.NoError(t, err)

	tampered, err := rlp.EncodeToBytes(storedRecord{
		ID:          rec.ID,
		Owner:       rec.Owner,
		Reward:      1_000,
		OwnerAmount: 1_000,
		Checksum:    rec.Checksum,
	})
	require.NoError(t, err)
	require.NoError(t, db.Put(entryKey(owner(1), 0), tampered))

	_, _, err = h.List(owner(1), "", 10)
	require.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestAppendRejectsNegativeTimestamps(t *testing.T) {
	h := NewHistory(storage.NewMemDB())
	_, err := h.Append(Record{Owner: owner(1), ClaimTime: -1})
	require.Error(t, err)
}
