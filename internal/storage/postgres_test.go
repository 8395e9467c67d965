package storage

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStore_CloseWithoutStart(t *testing.T) {
	// sql.Open is lazy, so the pool can be built and closed without a server
	db, err := sql.Open("postgres", "host=localhost port=5432 sslmode=disable")
	require.NoError(t, err)

	store := &EventStore{db: db}

	// Read-only callers close the store without ever starting the write
	// queue; the pool must still be released
	require.NoError(t, store.Close())
	assert.ErrorContains(t, db.Ping(), "closed")
}
