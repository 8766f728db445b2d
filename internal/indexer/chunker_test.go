package indexer

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goSource = `package widget

import "fmt"

// Widget does widget things.
type Widget struct {
	Name string
}

func NewWidget(name string) *Widget {
	return &Widget{Name: name}
}

func (w *Widget) Describe() string {
	return fmt.Sprintf("widget %s", w.Name)
}
`

func TestChunkFileStructural(t *testing.T) {
	c := NewChunker(120, 20)
	defer c.Close()

	chunks := c.ChunkFile("internal/widget/widget.go", []byte(goSource))
	require.NotEmpty(t, chunks)
	assert.Equal(t, "go", chunks[0].Language)
	assert.Equal(t, "code", chunks[0].DocType)
	assert.Equal(t, "internal/widget/widget.go", chunks[0].FilePath)
	assert.Contains(t, chunks[0].Document, "File: internal/widget/widget.go")

	success, fallback, lineBased := c.CounterSnapshot()
	assert.Equal(t, 1, success)
	assert.Zero(t, fallback)
	assert.Zero(t, lineBased)
}

func TestChunkFileDeterministicIDs(t *testing.T) {
	c := NewChunker(120, 20)
	defer c.Close()

	first := c.ChunkFile("a.go", []byte(goSource))
	second := c.ChunkFile("a.go", []byte(goSource))
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "unchanged chunks must upsert onto themselves")
	}

	moved := c.ChunkFile("b.go", []byte(goSource))
	assert.NotEqual(t, first[0].ID, moved[0].ID, "the path participates in the id")
}

func TestChunkFileLineWindows(t *testing.T) {
	c := NewChunker(10, 2)
	defer c.Close()

	var b strings.Builder
	for i := 1; i <= 25; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	chunks := c.ChunkFile("notes.txt", []byte(b.String()))
	require.Len(t, chunks, 3)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 10, chunks[0].EndLine)
	assert.Equal(t, 9, chunks[1].StartLine, "windows overlap by the configured lines")

	_, _, lineBased := c.CounterSnapshot()
	assert.Equal(t, 1, lineBased)
}

func TestChunkFileBrokenSourceFallsBack(t *testing.T) {
	c := NewChunker(120, 20)
	defer c.Close()

	chunks := c.ChunkFile("broken.go", []byte("package x\n\nfunc {{{{\n"))
	assert.NotEmpty(t, chunks, "unparseable files still index as line windows")

	_, fallback, _ := c.CounterSnapshot()
	assert.Equal(t, 1, fallback)
}

func TestDocTypeFor(t *testing.T) {
	cases := []struct {
		path, want string
	}{
		{"internal/store/store.go", "code"},
		{"internal/store/store_test.go", "test"},
		{"web/app.spec.ts", "test"},
		{"README.md", "docs"},
		{"config.yaml", "config"},
		{"app/locales/de.json", "i18n"},
		{"i18n/messages.po", "i18n"},
	}
	for _, tc := range cases {
		ext := strings.ToLower(tc.path[strings.LastIndex(tc.path, "."):])
		assert.Equal(t, tc.want, docTypeFor(tc.path, ext), tc.path)
	}
}
