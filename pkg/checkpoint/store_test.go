package checkpoint

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kerbaras/mangadl/pkg/data"
)

func TestLoadMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())

	cp, err := store.Load("Title", 1)
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestSaveAndLoad(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root)

	cp := &Checkpoint{
		TitleURL:   "https://weebcentral.com/series/01ABC/title",
		Status:     data.StatusFetching,
		TotalPages: 5,
		Completed:  []int{2, 0, 1},
		Pages: []data.PageRef{
			{Index: 0, URL: "https://cdn/0.png", File: "001.png"},
			{Index: 1, URL: "https://cdn/1.png", File: "002.png"},
		},
	}
	require.NoError(t, store.Save("Title", 10.5, cp))

	// the chapter directory is created on first write
	info, err := os.Stat(filepath.Join(root, "Title", "10.5"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	loaded, err := store.Load("Title", 10.5)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Title", loaded.TitleID)
	assert.Equal(t, data.ChapterNumber(10.5), loaded.Chapter)
	assert.Equal(t, []int{0, 1, 2}, loaded.Completed)
	assert.Equal(t, 5, loaded.TotalPages)
	assert.Equal(t, "002.png", loaded.Pages[1].File)
	assert.True(t, loaded.Resumable())
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, loaded.CompletedSet())

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Join(root, "Title", ".checkpoints"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.5.json", entries[0].Name())
}

func TestMarkConverted(t *testing.T) {
	store := NewFileStore(t.TempDir())

	require.NoError(t, store.Save("Title", 1, &Checkpoint{Status: data.StatusCompleted, TotalPages: 2, Completed: []int{0, 1}, LastError: "conversion failed"}))
	require.NoError(t, store.MarkConverted("Title", 1))

	cp, err := store.Load("Title", 1)
	require.NoError(t, err)
	assert.Equal(t, data.StatusConverted, cp.Status)
	assert.Empty(t, cp.LastError)
	assert.False(t, cp.Resumable())
}

func TestMarkConvertedMissing(t *testing.T) {
	store := NewFileStore(t.TempDir())

	err := store.MarkConverted("Title", 3)
	assert.ErrorIs(t, err, ErrCheckpointIO)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadCorrupt(t *testing.T) {
	root := t.TempDir()
	store := NewFileStore(root)

	dir := filepath.Join(root, "Title", ".checkpoints")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.json"), []byte("{not json"), 0644))

	_, err := store.Load("Title", 1)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "decode", ioErr.Op)
	assert.ErrorIs(t, err, ErrCheckpointIO)
}

func TestSaveFailsOnUnwritableRoot(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "Title")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not a dir"), 0644))

	err := NewFileStore(root).Save("Title", 1, &Checkpoint{Status: data.StatusFetching})
	assert.ErrorIs(t, err, ErrCheckpointIO)
}

func TestList(t *testing.T) {
	store := NewFileStore(t.TempDir())

	for _, n := range []data.ChapterNumber{10, 2, 2.5} {
		require.NoError(t, store.Save("Title", n, &Checkpoint{Status: data.StatusCompleted}))
	}

	list, err := store.List("Title")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, data.ChapterNumber(2), list[0].Chapter)
	assert.Equal(t, data.ChapterNumber(2.5), list[1].Chapter)
	assert.Equal(t, data.ChapterNumber(10), list[2].Chapter)

	empty, err := store.List("Unknown")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestConcurrentChaptersDoNotInterfere(t *testing.T) {
	store := NewFileStore(t.TempDir())

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n data.ChapterNumber) {
			defer wg.Done()
			for page := 0; page < 5; page++ {
				completed := make([]int, page+1)
				for j := range completed {
					completed[j] = j
				}
				assert.NoError(t, store.Save("Title", n, &Checkpoint{Status: data.StatusFetching, TotalPages: 5, Completed: completed}))
			}
		}(data.ChapterNumber(i))
	}
	wg.Wait()

	for i := 1; i <= 8; i++ {
		cp, err := store.Load("Title", data.ChapterNumber(i))
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3, 4}, cp.Completed)
	}
}
