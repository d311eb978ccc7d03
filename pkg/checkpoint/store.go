// Package checkpoint persists per-chapter download progress so that an
// interrupted run can resume without refetching finished pages.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kerbaras/mangadl/pkg/data"
)

// ErrCheckpointIO matches every durable-storage failure of a Store.
var ErrCheckpointIO = errors.New("checkpoint i/o error")

// IOError describes a failed checkpoint read or write.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func (e *IOError) Is(target error) bool { return target == ErrCheckpointIO }

// Checkpoint is the durable progress record of one chapter.
type Checkpoint struct {
	TitleID    string             `json:"title_id"`
	TitleURL   string             `json:"title_url,omitempty"`
	Chapter    data.ChapterNumber `json:"chapter"`
	Status     data.ChapterStatus `json:"status"`
	TotalPages int                `json:"total_pages"`
	Completed  []int              `json:"completed_pages"`
	Pages      []data.PageRef     `json:"pages,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Resumable reports whether the chapter still has work left.
func (c *Checkpoint) Resumable() bool {
	return c != nil && c.Status != data.StatusConverted
}

// CompletedSet returns the completed page indices as a set.
func (c *Checkpoint) CompletedSet() map[int]bool {
	set := make(map[int]bool, len(c.Completed))
	for _, i := range c.Completed {
		set[i] = true
	}
	return set
}

// Store is keyed by (title key, chapter number). Different chapters may be
// written concurrently; writes for one chapter must come from a single writer.
type Store interface {
	// Load returns nil without error when no checkpoint exists.
	Load(titleID string, chapter data.ChapterNumber) (*Checkpoint, error)
	Save(titleID string, chapter data.ChapterNumber, cp *Checkpoint) error
	MarkConverted(titleID string, chapter data.ChapterNumber) error
}

// FileStore keeps one JSON record per chapter under
// <root>/<title>/.checkpoints/<chapter>.json.
type FileStore struct {
	layout data.Layout
}

func NewFileStore(root string) *FileStore {
	return &FileStore{layout: data.Layout{Root: root}}
}

func (s *FileStore) path(titleID string, chapter data.ChapterNumber) string {
	return filepath.Join(s.layout.CheckpointDir(titleID), chapter.String()+".json")
}

func (s *FileStore) Load(titleID string, chapter data.ChapterNumber) (*Checkpoint, error) {
	path := s.path(titleID, chapter)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, &IOError{Op: "decode", Path: path, Err: err}
	}
	return &cp, nil
}

// Save atomically replaces the record: the JSON is written to a temporary
// file in the same directory, synced, and renamed over the old record. It
// also creates the chapter's output directory on first write.
func (s *FileStore) Save(titleID string, chapter data.ChapterNumber, cp *Checkpoint) error {
	if err := os.MkdirAll(s.layout.ChapterDir(titleID, chapter), 0755); err != nil {
		return &IOError{Op: "mkdir", Path: s.layout.ChapterDir(titleID, chapter), Err: err}
	}

	record := *cp
	record.TitleID = titleID
	record.Chapter = chapter
	record.Completed = append([]int(nil), cp.Completed...)
	sort.Ints(record.Completed)
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	raw, err := json.MarshalIndent(&record, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: s.path(titleID, chapter), Err: err}
	}

	path := s.path(titleID, chapter)
	if err := WriteFileAtomic(path, raw); err != nil {
		return &IOError{Op: "write", Path: path, Err: err}
	}
	return nil
}

func (s *FileStore) MarkConverted(titleID string, chapter data.ChapterNumber) error {
	cp, err := s.Load(titleID, chapter)
	if err != nil {
		return err
	}
	if cp == nil {
		path := s.path(titleID, chapter)
		return &IOError{Op: "mark converted", Path: path, Err: os.ErrNotExist}
	}
	cp.Status = data.StatusConverted
	cp.LastError = ""
	cp.UpdatedAt = time.Now().UTC()
	return s.Save(titleID, chapter, cp)
}

// List returns every checkpoint stored for a title ordered by chapter.
func (s *FileStore) List(titleID string) ([]*Checkpoint, error) {
	dir := s.layout.CheckpointDir(titleID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Op: "list", Path: dir, Err: err}
	}

	var out []*Checkpoint
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := data.ParseChapterNumber(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		cp, err := s.Load(titleID, n)
		if err != nil {
			return nil, err
		}
		if cp != nil {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chapter < out[j].Chapter })
	return out, nil
}

// WriteFileAtomic writes content to a temporary sibling of path, flushes it to
// disk and renames it into place, so readers only ever see the old or the
// complete new content.
func WriteFileAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
