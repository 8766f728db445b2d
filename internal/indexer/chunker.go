// Package indexer turns the working tree into embedded code chunks and keeps
// the index current as files change.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"oakci/internal/logging"
	"oakci/internal/vector"
)

// Chunker splits source files into embeddable chunks. Structured languages
// are split on declaration boundaries via tree-sitter; everything else falls
// back to overlapping line windows.
type Chunker struct {
	mu               sync.Mutex
	parser           *sitter.Parser
	targetLines      int
	overlapLines     int
	astSuccessCount  int
	astFallbackCount int
	lineBasedCount   int
}

// NewChunker creates a chunker with the given window sizing.
func NewChunker(targetLines, overlapLines int) *Chunker {
	if targetLines <= 0 {
		targetLines = 120
	}
	if overlapLines < 0 || overlapLines >= targetLines {
		overlapLines = 20
	}
	return &Chunker{
		parser:       sitter.NewParser(),
		targetLines:  targetLines,
		overlapLines: overlapLines,
	}
}

// Close releases the tree-sitter parser.
func (c *Chunker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parser.Close()
}

// CounterSnapshot returns how many files used each chunking strategy.
func (c *Chunker) CounterSnapshot() (astSuccess, astFallback, lineBased int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.astSuccessCount, c.astFallbackCount, c.lineBasedCount
}

func languageFor(ext string) (*sitter.Language, string) {
	switch ext {
	case ".go":
		return golang.GetLanguage(), "go"
	case ".py":
		return python.GetLanguage(), "python"
	case ".rs":
		return rust.GetLanguage(), "rust"
	case ".js", ".jsx", ".mjs":
		return javascript.GetLanguage(), "javascript"
	case ".ts", ".tsx":
		return typescript.GetLanguage(), "typescript"
	default:
		return nil, strings.TrimPrefix(ext, ".")
	}
}

func docTypeFor(relPath, ext string) string {
	base := strings.ToLower(filepath.Base(relPath))
	slashed := strings.ToLower(filepath.ToSlash(relPath))
	switch {
	case strings.Contains(base, "_test.") || strings.Contains(base, ".test.") || strings.Contains(base, ".spec."):
		return "test"
	case strings.Contains(slashed, "/locales/") || strings.Contains(slashed, "/i18n/") || ext == ".po":
		return "i18n"
	}
	switch ext {
	case ".md", ".rst", ".txt", ".adoc":
		return "docs"
	case ".json", ".yaml", ".yml", ".toml", ".ini", ".env":
		return "config"
	default:
		return "code"
	}
}

// ChunkFile splits one file. relPath is the project-relative path recorded in
// chunk metadata and used for deterministic ids.
func (c *Chunker) ChunkFile(relPath string, content []byte) []vector.CodeChunk {
	ext := strings.ToLower(filepath.Ext(relPath))
	lang, langName := languageFor(ext)
	docType := docTypeFor(relPath, ext)

	if lang != nil {
		chunks, err := c.chunkStructural(relPath, content, lang, langName, docType)
		if err == nil && len(chunks) > 0 {
			c.mu.Lock()
			c.astSuccessCount++
			c.mu.Unlock()
			return chunks
		}
		if err != nil {
			logging.IndexerDebug("structural chunking failed for %s, using line windows: %v", relPath, err)
		}
		c.mu.Lock()
		c.astFallbackCount++
		c.mu.Unlock()
	} else {
		c.mu.Lock()
		c.lineBasedCount++
		c.mu.Unlock()
	}
	return c.chunkLines(relPath, content, langName, docType)
}

// chunkStructural groups consecutive top-level declarations into chunks of
// roughly the target line count, never splitting a declaration.
func (c *Chunker) chunkStructural(relPath string, content []byte, lang *sitter.Language, langName, docType string) ([]vector.CodeChunk, error) {
	c.mu.Lock()
	c.parser.SetLanguage(lang)
	tree, err := c.parser.ParseCtx(context.Background(), nil, content)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("parse tree contains errors")
	}

	lines := strings.Split(string(content), "\n")

	type span struct {
		start, end int // 1-based, inclusive
		symbol     string
	}
	var spans []span
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		sp := span{
			start: int(node.StartPoint().Row) + 1,
			end:   int(node.EndPoint().Row) + 1,
		}
		if nameNode := node.ChildByFieldName("name"); nameNode != nil {
			sp.symbol = nameNode.Content(content)
		}
		spans = append(spans, sp)
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("no top-level declarations")
	}

	var chunks []vector.CodeChunk
	cur := spans[0]
	flush := func() {
		chunks = append(chunks, c.buildChunk(relPath, lines, cur.start, cur.end, cur.symbol, langName, docType))
	}
	for _, sp := range spans[1:] {
		// A declaration larger than the target gets its own chunk.
		if sp.end-cur.start+1 > c.targetLines && cur.end >= cur.start {
			flush()
			cur = sp
			continue
		}
		cur.end = sp.end
		if cur.symbol == "" {
			cur.symbol = sp.symbol
		}
	}
	flush()
	return chunks, nil
}

// chunkLines splits content into overlapping fixed-size line windows.
func (c *Chunker) chunkLines(relPath string, content []byte, langName, docType string) []vector.CodeChunk {
	lines := strings.Split(string(content), "\n")
	if len(lines) == 0 {
		return nil
	}

	step := c.targetLines - c.overlapLines
	var chunks []vector.CodeChunk
	for start := 0; start < len(lines); start += step {
		end := start + c.targetLines
		if end > len(lines) {
			end = len(lines)
		}
		chunk := c.buildChunk(relPath, lines, start+1, end, "", langName, docType)
		if strings.TrimSpace(chunk.Content) != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(lines) {
			break
		}
	}
	return chunks
}

func (c *Chunker) buildChunk(relPath string, lines []string, startLine, endLine int, symbol, langName, docType string) vector.CodeChunk {
	if startLine < 1 {
		startLine = 1
	}
	if endLine > len(lines) {
		endLine = len(lines)
	}
	content := strings.Join(lines[startLine-1:endLine], "\n")

	var header strings.Builder
	fmt.Fprintf(&header, "File: %s\n", relPath)
	if symbol != "" {
		fmt.Fprintf(&header, "Symbol: %s\n", symbol)
	}
	fmt.Fprintf(&header, "Lines %d-%d\n\n", startLine, endLine)

	return vector.CodeChunk{
		ID:        chunkID(relPath, startLine, content),
		FilePath:  relPath,
		StartLine: startLine,
		EndLine:   endLine,
		Language:  langName,
		DocType:   docType,
		Symbol:    symbol,
		Content:   content,
		Document:  header.String() + content,
	}
}

// chunkID derives a stable id from the path, position, and content, so an
// unchanged chunk upserts onto itself across reindexes.
func chunkID(relPath string, startLine int, content string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", relPath, startLine, content)))
	return hex.EncodeToString(h[:])[:32]
}
