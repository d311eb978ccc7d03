package data

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ChapterNumber is a decimal chapter number. Fractional chapters such as
// 23.5 sort between their integral neighbours.
type ChapterNumber float64

// ParseChapterNumber parses a decimal chapter number such as "5" or "23.5".
func ParseChapterNumber(s string) (ChapterNumber, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty chapter number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chapter number %q", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, fmt.Errorf("invalid chapter number %q", s)
	}
	return ChapterNumber(f), nil
}

var chapterNameNumber = regexp.MustCompile(`(?:chapter\s*)?(\d+\.?\d*)`)

// ParseChapterNumberFromName extracts the chapter number from a display name
// like "Chapter 23.5". Names without a number map to 0.
func ParseChapterNumberFromName(name string) ChapterNumber {
	m := chapterNameNumber.FindStringSubmatch(strings.ToLower(name))
	if m == nil {
		return 0
	}
	n, err := ParseChapterNumber(strings.TrimSuffix(m[1], "."))
	if err != nil {
		return 0
	}
	return n
}

// String renders the number canonically: "5", "23.5".
func (n ChapterNumber) String() string {
	return strconv.FormatFloat(float64(n), 'f', -1, 64)
}

// ChapterStatus is the lifecycle state of a chapter job and its checkpoint.
type ChapterStatus string

const (
	StatusPending    ChapterStatus = "pending"
	StatusFetching   ChapterStatus = "fetching"
	StatusCompleted  ChapterStatus = "completed"
	StatusFailed     ChapterStatus = "failed"
	StatusConverting ChapterStatus = "converting"
	StatusConverted  ChapterStatus = "converted"
)

// Title is a serialized work and its ordered chapter list.
type Title struct {
	ID          string // series slug
	URL         string
	Name        string
	Description string
	Cover       string // cover image URL
	Source      string
	Authors     []string
	Tags        []string
	Chapters    []ChapterRef
}

// Key is the filesystem-safe title directory name, also used as the
// checkpoint title key.
func (t *Title) Key() string {
	key := SanitizeFileName(t.Name)
	if key == "" {
		key = SanitizeFileName(t.ID)
	}
	if key == "" {
		key = "unknown_title"
	}
	return key
}

// Chapter looks up a chapter by number.
func (t *Title) Chapter(n ChapterNumber) (ChapterRef, bool) {
	for _, ch := range t.Chapters {
		if ch.Number == n {
			return ch, true
		}
	}
	return ChapterRef{}, false
}

// ChapterRef identifies one chapter of a title.
type ChapterRef struct {
	Number  ChapterNumber
	Name    string
	Locator string // chapter page URL
}

// PageRef is one page of a chapter. Index is 0-based and defines page order.
type PageRef struct {
	Index int    `json:"index"`
	URL   string `json:"url"`
	File  string `json:"file,omitempty"` // local file name once fetched
}

// SelectionSet is the resolved, ascending, duplicate-free set of chapter
// numbers requested for download.
type SelectionSet []ChapterNumber

// Contains reports whether n is selected.
func (s SelectionSet) Contains(n ChapterNumber) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= n })
	return i < len(s) && s[i] == n
}

// ChapterJob is the mutable unit of work owned by exactly one chapter worker.
type ChapterJob struct {
	Title     *Title
	Chapter   ChapterRef
	State     ChapterStatus
	Pages     []PageRef
	Completed map[int]bool
	Attempts  map[int]int
	OutputDir string
}

// NewChapterJob creates a pending job for a chapter.
func NewChapterJob(title *Title, chapter ChapterRef, outputDir string) *ChapterJob {
	return &ChapterJob{
		Title:     title,
		Chapter:   chapter,
		State:     StatusPending,
		Completed: make(map[int]bool),
		Attempts:  make(map[int]int),
		OutputDir: outputDir,
	}
}

// Missing returns the page indices not yet completed, ascending.
func (j *ChapterJob) Missing() []int {
	var missing []int
	for _, p := range j.Pages {
		if !j.Completed[p.Index] {
			missing = append(missing, p.Index)
		}
	}
	sort.Ints(missing)
	return missing
}

// PageFiles returns the local page files in page-index order.
func (j *ChapterJob) PageFiles() []string {
	pages := make([]PageRef, len(j.Pages))
	copy(pages, j.Pages)
	sort.Slice(pages, func(a, b int) bool { return pages[a].Index < pages[b].Index })

	files := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.File == "" {
			continue
		}
		files = append(files, filepath.Join(j.OutputDir, p.File))
	}
	return files
}

// Layout maps titles and chapters onto the output tree:
// <root>/<title>/<chapter>/ for pages and archives and
// <root>/<title>/.checkpoints/ for checkpoint records.
type Layout struct {
	Root string
}

func (l Layout) TitleDir(titleKey string) string {
	return filepath.Join(l.Root, titleKey)
}

func (l Layout) ChapterDir(titleKey string, n ChapterNumber) string {
	return filepath.Join(l.Root, titleKey, n.String())
}

func (l Layout) CheckpointDir(titleKey string) string {
	return filepath.Join(l.Root, titleKey, ".checkpoints")
}

var (
	invalidFileChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots     = regexp.MustCompile(`\.+$`)
	multiSpace       = regexp.MustCompile(`\s+`)
)

// SanitizeFileName removes characters that are invalid in file and folder names.
func SanitizeFileName(name string) string {
	name = invalidFileChars.ReplaceAllString(name, "_")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	name = trailingDots.ReplaceAllString(name, "")
	return strings.TrimSpace(name)
}
