package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDuckDBCreatesLibrarySchema(t *testing.T) {
	db, err := InitDuckDB(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	defer db.Close()

	var tables int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name IN ('titles', 'chapters')`,
	).Scan(&tables))
	assert.Equal(t, 2, tables)

	rows, err := db.Query(
		`SELECT column_name FROM information_schema.columns WHERE table_name = 'chapters' ORDER BY ordinal_position`)
	require.NoError(t, err)
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		columns = append(columns, name)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"title_id", "number", "status", "pages", "archives", "last_error", "updated_at"}, columns)
}

func TestInitDuckDBCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library", "nested", "library.db")

	db, err := InitDuckDB(path)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestInitDuckDBReopensExistingLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")

	repo, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.SaveTitle(&TitleRecord{ID: "one-piece", Name: "One Piece", Status: "completed"}))
	require.NoError(t, repo.Close())

	repo, err = NewRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	title, err := repo.GetTitle("one-piece")
	require.NoError(t, err)
	require.NotNil(t, title)
	assert.Equal(t, "One Piece", title.Name)
}
