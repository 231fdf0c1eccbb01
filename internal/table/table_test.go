package table_test

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ridgeql/internal/row"
	"ridgeql/internal/table"
)

func TestInsertFindAndScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	tbl, err := table.Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, tbl.Insert(row.Row{ID: 1, Username: "cstack", Email: "foo@bar.com"}))

	got, found, err := tbl.Find(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "cstack", got.Username)

	_, found, err = tbl.Find(2)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tbl.Close())
}

func TestInsertDuplicateKeyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	tbl, err := table.Open(path, nil)
	require.NoError(t, err)

	require.NoError(t, tbl.Insert(row.Row{ID: 1, Username: "a", Email: "a@b.com"}))
	err = tbl.Insert(row.Row{ID: 1, Username: "b", Email: "b@b.com"})
	assert.Error(t, err)
}

func TestScanOrdersByKeyRegardlessOfInsertOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	tbl, err := table.Open(path, nil)
	require.NoError(t, err)

	for _, id := range []uint32{50, 10, 30, 20, 40} {
		require.NoError(t, tbl.Insert(row.Row{ID: id, Username: fmt.Sprintf("u%d", id), Email: "e@e.com"}))
	}

	var ids []uint32
	require.NoError(t, tbl.Scan(func(r row.Row) error {
		ids = append(ids, r.ID)
		return nil
	}))
	assert.Equal(t, []uint32{10, 20, 30, 40, 50}, ids)
}

func TestPersistenceAcrossReopenWithMultipleLeaves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	tbl, err := table.Open(path, nil)
	require.NoError(t, err)

	const n = uint32(50) // forces several leaf splits (LeafMaxCells == 13)
	for id := uint32(1); id <= n; id++ {
		require.NoError(t, tbl.Insert(row.Row{
			ID:       id,
			Username: fmt.Sprintf("user%d", id),
			Email:    fmt.Sprintf("u%d@example.com", id),
		}))
	}
	require.NoError(t, tbl.Close())

	reopened, err := table.Open(path, nil)
	require.NoError(t, err)

	var ids []uint32
	require.NoError(t, reopened.Scan(func(r row.Row) error {
		ids = append(ids, r.ID)
		return nil
	}))

	require.Len(t, ids, int(n))
	for i, id := range ids {
		assert.Equal(t, uint32(i+1), id)
	}
	require.NoError(t, reopened.Close())
}
