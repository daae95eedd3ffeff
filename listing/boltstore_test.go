package listing

import (
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStoreAppendOrderSurvivesReopen(t *testing.T) {
	dbpath := filepath.Join(t.TempDir(), "test.db")

	db, err := bolt.Open(dbpath, 0660, nil)
	require.NoError(t, err)

	store, err := NewBoltStore(db, "listings-test")
	require.NoError(t, err)

	l := Listing{TokenID: "42", Seller: sellerS, Price: "10.0", CreatedAt: 100, Status: StatusActive}
	require.NoError(t, store.Append(Record{ID: "a", RecordedAt: 1, Listing: l}))

	sold := l
	sold.Status = StatusSold
	sold.Buyer = buyerB
	sold.PaymentTxRef = "0xabc"
	require.NoError(t, store.Append(Record{ID: "b", RecordedAt: 2, Listing: sold}))

	require.NoError(t, db.Close())

	db, err = bolt.Open(dbpath, 0660, nil)
	require.NoError(t, err)
	defer db.Close()

	store, err = NewBoltStore(db, "listings-test")
	require.NoError(t, err)

	recs, err := store.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)

	state := fold(recs)
	require.Contains(t, state, l.Key())
	assert.Equal(t, StatusSold, state[l.Key()].Status)
	assert.Equal(t, "0xabc", state[l.Key()].PaymentTxRef)
}
