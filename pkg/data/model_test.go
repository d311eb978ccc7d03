package data

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChapterNumber(t *testing.T) {
	tests := []struct {
		in   string
		want ChapterNumber
		str  string
	}{
		{"5", 5, "5"},
		{"23.5", 23.5, "23.5"},
		{"5.50", 5.5, "5.5"},
		{" 10 ", 10, "10"},
		{"0", 0, "0"},
	}
	for _, tt := range tests {
		got, err := ParseChapterNumber(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.str, got.String())
	}

	for _, bad := range []string{"", "abc", "-1", "NaN", "Inf", "1.2.3"} {
		_, err := ParseChapterNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseChapterNumberFromName(t *testing.T) {
	assert.Equal(t, ChapterNumber(23.5), ParseChapterNumberFromName("Chapter 23.5"))
	assert.Equal(t, ChapterNumber(100), ParseChapterNumberFromName("chapter100"))
	assert.Equal(t, ChapterNumber(12), ParseChapterNumberFromName("Episode 12."))
	assert.Equal(t, ChapterNumber(0), ParseChapterNumberFromName("Oneshot"))
}

func TestTitleKey(t *testing.T) {
	title := &Title{ID: "01ABC", Name: `Re:Zero / Part "2"...`}
	assert.Equal(t, "Re_Zero _ Part _2_", title.Key())

	assert.Equal(t, "01ABC", (&Title{ID: "01ABC"}).Key())
	assert.Equal(t, "unknown_title", (&Title{}).Key())
}

func TestTitleChapter(t *testing.T) {
	title := &Title{Chapters: []ChapterRef{{Number: 1}, {Number: 1.5, Name: "Chapter 1.5"}}}

	ch, ok := title.Chapter(1.5)
	require.True(t, ok)
	assert.Equal(t, "Chapter 1.5", ch.Name)

	_, ok = title.Chapter(2)
	assert.False(t, ok)
}

func TestSelectionSetContains(t *testing.T) {
	set := SelectionSet{1, 5, 10, 10.5}
	assert.True(t, set.Contains(10.5))
	assert.True(t, set.Contains(1))
	assert.False(t, set.Contains(2))
	assert.False(t, SelectionSet{}.Contains(1))
}

func TestChapterJobMissingAndFiles(t *testing.T) {
	job := NewChapterJob(&Title{Name: "T"}, ChapterRef{Number: 1}, "/out/T/1")
	job.Pages = []PageRef{
		{Index: 2, URL: "u2", File: "003.png"},
		{Index: 0, URL: "u0", File: "001.jpg"},
		{Index: 1, URL: "u1"},
	}
	job.Completed[0] = true
	job.Completed[2] = true

	assert.Equal(t, []int{1}, job.Missing())
	assert.Equal(t, []string{
		filepath.Join("/out/T/1", "001.jpg"),
		filepath.Join("/out/T/1", "003.png"),
	}, job.PageFiles())
}

func TestLayout(t *testing.T) {
	l := Layout{Root: "/out"}
	assert.Equal(t, filepath.Join("/out", "Title"), l.TitleDir("Title"))
	assert.Equal(t, filepath.Join("/out", "Title", "10.5"), l.ChapterDir("Title", 10.5))
	assert.Equal(t, filepath.Join("/out", "Title", ".checkpoints"), l.CheckpointDir("Title"))
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "Song_ Part 1_2", SanitizeFileName("Song: Part 1/2"))
	assert.Equal(t, "Track", SanitizeFileName("Track..."))
	assert.Equal(t, "Name with spaces", SanitizeFileName("Name   with  spaces "))
}
