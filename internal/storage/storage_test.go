package storage

import (
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchKey(t *testing.T) {
	stream := uuid.MustParse("6f1c2a8e-3d4b-4c5a-9e7f-0a1b2c3d4e5f")
	session := uuid.MustParse("01900000-0000-7000-8000-000000000001")

	key := BatchKey(stream, session, 42)
	assert.Equal(t, "batches/6f1c2a8e-3d4b-4c5a-9e7f-0a1b2c3d4e5f/01900000-0000-7000-8000-000000000001/00000000000000000042.json", key)
	assert.True(t, strings.HasPrefix(key, BatchPrefix(stream)))
}

func TestBatchKey_LexicalOrderMatchesSequence(t *testing.T) {
	stream, session := uuid.New(), uuid.New()
	keys := []string{
		BatchKey(stream, session, 10),
		BatchKey(stream, session, 9),
		BatchKey(stream, session, 100),
		BatchKey(stream, session, 1),
	}
	sort.Strings(keys)
	assert.Equal(t, []string{
		BatchKey(stream, session, 1),
		BatchKey(stream, session, 9),
		BatchKey(stream, session, 10),
		BatchKey(stream, session, 100),
	}, keys)
}

func TestStaleKeys(t *testing.T) {
	keys := []string{"a", "b", "c", "d"}
	assert.Equal(t, []string{"a", "b"}, StaleKeys(keys, 2))
	assert.Nil(t, StaleKeys(keys, 4))
	assert.Nil(t, StaleKeys(keys, 10))
	assert.Nil(t, StaleKeys(keys, 0), "zero retention keeps everything")
}

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrationsFS, "migrations")
	require.NoError(t, err)
	defer src.Close()

	first, err := src.First()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first)

	up, _, err := src.ReadUp(first)
	require.NoError(t, err)
	defer up.Close()
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	assert.Contains(t, string(body), "UNIQUE (session_id, track_id)")

	down, _, err := src.ReadDown(first)
	require.NoError(t, err)
	defer down.Close()
}
