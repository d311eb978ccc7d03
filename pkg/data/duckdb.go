package data

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
)

const schema = `
CREATE TABLE IF NOT EXISTS titles (
	id         VARCHAR PRIMARY KEY,
	name       VARCHAR NOT NULL,
	url        VARCHAR,
	source     VARCHAR,
	status     VARCHAR,
	updated_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS chapters (
	title_id   VARCHAR NOT NULL,
	number     DOUBLE NOT NULL,
	status     VARCHAR,
	pages      INTEGER,
	archives   VARCHAR,
	last_error VARCHAR,
	updated_at TIMESTAMP,
	PRIMARY KEY (title_id, number)
);
`

// TitleRecord is a title as stored in the library.
type TitleRecord struct {
	ID        string
	Name      string
	URL       string
	Source    string
	Status    string // "downloading", "completed", "partial"
	UpdatedAt time.Time
}

// ChapterRecord is the last known outcome of a chapter download.
type ChapterRecord struct {
	TitleID   string
	Number    ChapterNumber
	Status    string
	Pages     int
	Archives  []string
	LastError string
	UpdatedAt time.Time
}

// InitDuckDB opens the database at path, creating parent directories and
// the library schema when missing.
func InitDuckDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return db, nil
}

// Repository is the library index of downloaded titles and chapter outcomes.
type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the library database at path.
func NewRepository(path string) (*Repository, error) {
	db, err := InitDuckDB(path)
	if err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) SaveTitle(title *TitleRecord) error {
	if title.UpdatedAt.IsZero() {
		title.UpdatedAt = time.Now()
	}
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO titles (id, name, url, source, status, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		title.ID, title.Name, title.URL, title.Source, title.Status, title.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save title %s: %w", title.ID, err)
	}
	return nil
}

// GetTitle returns nil without error when the title is unknown.
func (r *Repository) GetTitle(id string) (*TitleRecord, error) {
	row := r.db.QueryRow(`SELECT id, name, url, source, status, updated_at FROM titles WHERE id = ?`, id)

	var t TitleRecord
	var url, source, status sql.NullString
	var updated sql.NullTime
	if err := row.Scan(&t.ID, &t.Name, &url, &source, &status, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.URL, t.Source, t.Status, t.UpdatedAt = url.String, source.String, status.String, updated.Time
	return &t, nil
}

func (r *Repository) ListTitles() ([]*TitleRecord, error) {
	rows, err := r.db.Query(`SELECT id, name, url, source, status, updated_at FROM titles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []*TitleRecord
	for rows.Next() {
		var t TitleRecord
		var url, source, status sql.NullString
		var updated sql.NullTime
		if err := rows.Scan(&t.ID, &t.Name, &url, &source, &status, &updated); err != nil {
			return nil, err
		}
		t.URL, t.Source, t.Status, t.UpdatedAt = url.String, source.String, status.String, updated.Time
		titles = append(titles, &t)
	}
	return titles, rows.Err()
}

func (r *Repository) SaveChapterOutcome(ch *ChapterRecord) error {
	if ch.UpdatedAt.IsZero() {
		ch.UpdatedAt = time.Now()
	}
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO chapters (title_id, number, status, pages, archives, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ch.TitleID, float64(ch.Number), ch.Status, ch.Pages, strings.Join(ch.Archives, "\n"), ch.LastError, ch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save chapter %s/%s: %w", ch.TitleID, ch.Number, err)
	}
	return nil
}

// GetChapters returns the chapter records of a title ordered by number.
func (r *Repository) GetChapters(titleID string) ([]*ChapterRecord, error) {
	rows, err := r.db.Query(
		`SELECT title_id, number, status, pages, archives, last_error, updated_at
		 FROM chapters WHERE title_id = ? ORDER BY number`, titleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chapters []*ChapterRecord
	for rows.Next() {
		var c ChapterRecord
		var number float64
		var status, archives, lastErr sql.NullString
		var pages sql.NullInt64
		var updated sql.NullTime
		if err := rows.Scan(&c.TitleID, &number, &status, &pages, &archives, &lastErr, &updated); err != nil {
			return nil, err
		}
		c.Number = ChapterNumber(number)
		c.Status = status.String
		c.Pages = int(pages.Int64)
		if archives.String != "" {
			c.Archives = strings.Split(archives.String, "\n")
		}
		c.LastError = lastErr.String
		c.UpdatedAt = updated.Time
		chapters = append(chapters, &c)
	}
	return chapters, rows.Err()
}

// GetTitleWithChapterCount returns a title along with its number of known
// chapters and how many of them finished downloading.
func (r *Repository) GetTitleWithChapterCount(titleID string) (*TitleRecord, int, int, error) {
	title, err := r.GetTitle(titleID)
	if err != nil || title == nil {
		return title, 0, 0, err
	}

	var total, done int
	err = r.db.QueryRow(
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status IN ('completed', 'converted'))
		 FROM chapters WHERE title_id = ?`, titleID,
	).Scan(&total, &done)
	if err != nil {
		return nil, 0, 0, err
	}
	return title, total, done, nil
}

func (r *Repository) DeleteTitle(titleID string) error {
	if _, err := r.db.Exec(`DELETE FROM chapters WHERE title_id = ?`, titleID); err != nil {
		return fmt.Errorf("failed to delete chapters of %s: %w", titleID, err)
	}
	if _, err := r.db.Exec(`DELETE FROM titles WHERE id = ?`, titleID); err != nil {
		return fmt.Errorf("failed to delete title %s: %w", titleID, err)
	}
	return nil
}
