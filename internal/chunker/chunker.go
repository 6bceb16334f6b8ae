// Package chunker splits file and page content into the units that get
// embedded and stored as vector points. Go source is chunked per
// function/struct via go/ast (kept from the teacher's CodeChunker);
// every other language falls back to a generic overlapping character
// window, since deep per-language AST chunking sits outside what this
// module tests.
package chunker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// ChunkType categorizes the semantic type of a chunk.
type ChunkType string

const (
	ChunkTypeFunction ChunkType = "function"
	ChunkTypeStruct   ChunkType = "struct"
	ChunkTypeUnknown  ChunkType = "unknown"
	ChunkTypeDocument ChunkType = "document"
)

// Chunk is a single unit of content ready for embedding.
type Chunk struct {
	ID        string
	Content   string
	FilePath  string
	Language  string
	Type      ChunkType
	StartLine int
	EndLine   int
	Symbol    string
	Hash      string
	IndexedAt time.Time
}

// Chunker splits file or page content into Chunks.
type Chunker struct {
	maxChunkSize int
	overlapSize  int
}

// New creates a Chunker with a per-chunk size budget counted in
// characters (runes) and an overlap window between consecutive chunks in the generic fallback.
func New(maxChunkSize, overlapSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = 2000
	}
	if overlapSize < 0 {
		overlapSize = 200
	}
	return &Chunker{maxChunkSize: maxChunkSize, overlapSize: overlapSize}
}

// ChunkFile splits a source file's content by language.
func (c *Chunker) ChunkFile(ctx context.Context, content, filePath string) ([]Chunk, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext == ".go" {
		if chunks, ok := c.chunkGo(content, filePath); ok {
			return chunks, nil
		}
	}
	return c.chunkGeneric(content, filePath, detectLanguage(filePath)), nil
}

// ChunkDocument splits a crawled page's text content into generic
// overlapping chunks, tagged as ChunkTypeDocument.
func (c *Chunker) ChunkDocument(ctx context.Context, content, url string) []Chunk {
	chunks := c.chunkGeneric(content, url, "text")
	for i := range chunks {
		chunks[i].Type = ChunkTypeDocument
	}
	return chunks
}

func (c *Chunker) chunkGo(content, filePath string) ([]Chunk, bool) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	if err != nil {
		return nil, false
	}

	lines := strings.Split(content, "\n")
	var chunks []Chunk

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			start, end := fset.Position(d.Pos()), fset.Position(d.End())
			body := strings.Join(lines[start.Line-1:min(end.Line, len(lines))], "\n")
			chunks = append(chunks, c.newChunk(body, filePath, "go", ChunkTypeFunction, start.Line, end.Line-1, receiverQualifiedName(d)))
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				if _, ok := ts.Type.(*ast.StructType); !ok {
					continue
				}
				start, end := fset.Position(ts.Pos()), fset.Position(ts.End())
				endLine := end.Line - 1
				if endLine < start.Line {
					endLine = start.Line
				}
				body := strings.Join(lines[start.Line-1:min(endLine, len(lines))], "\n")
				chunks = append(chunks, c.newChunk(body, filePath, "go", ChunkTypeStruct, start.Line, endLine, ts.Name.Name))
			}
		}
	}

	if len(chunks) == 0 {
		return nil, false
	}
	return chunks, true
}

func receiverQualifiedName(fn *ast.FuncDecl) string {
	if fn.Recv == nil || len(fn.Recv.List) == 0 {
		return fn.Name.Name
	}
	switch t := fn.Recv.List[0].Type.(type) {
	case *ast.Ident:
		return t.Name + "." + fn.Name.Name
	case *ast.StarExpr:
		if ident, ok := t.X.(*ast.Ident); ok {
			return ident.Name + "." + fn.Name.Name
		}
	}
	return fn.Name.Name
}

// chunkGeneric splits content into fixed-size, word-boundary-aligned,
// overlapping windows, used for every language without a semantic
// chunker and for crawled documents.
func (c *Chunker) chunkGeneric(content, filePath, language string) []Chunk {
	if len(content) <= c.maxChunkSize {
		return []Chunk{c.newChunk(content, filePath, language, ChunkTypeUnknown, 1, countLines(content), "")}
	}

	var chunks []Chunk
	runes := []rune(content)
	total := len(runes)
	step := c.maxChunkSize - c.overlapSize
	if step <= 0 {
		step = c.maxChunkSize
	}

	for start := 0; start < total; start += step {
		end := start + c.maxChunkSize
		if end > total {
			end = total
		}
		if end < total {
			for end > start && !unicode.IsSpace(runes[end-1]) {
				end--
			}
			if end == start {
				end = start + c.maxChunkSize
			}
		}

		body := string(runes[start:end])
		if strings.TrimSpace(body) == "" {
			if end >= total {
				break
			}
			continue
		}

		startLine := countLines(string(runes[:start])) + 1
		endLine := startLine + countLines(body) - 1
		chunks = append(chunks, c.newChunk(body, filePath, language, ChunkTypeUnknown, startLine, endLine, ""))

		if end >= total {
			break
		}
	}
	return chunks
}

func (c *Chunker) newChunk(content, filePath, language string, chunkType ChunkType, startLine, endLine int, symbol string) Chunk {
	return Chunk{
		ID:        fmt.Sprintf("%s:%s:%s:%d", filePath, chunkType, symbol, startLine),
		Content:   content,
		FilePath:  filePath,
		Language:  language,
		Type:      chunkType,
		StartLine: startLine,
		EndLine:   endLine,
		Symbol:    symbol,
		Hash:      contentHash(content),
		IndexedAt: time.Now(),
	}
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func detectLanguage(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	languages := map[string]string{
		".go": "go", ".py": "python", ".js": "javascript", ".jsx": "javascript",
		".ts": "typescript", ".tsx": "typescript", ".java": "java", ".c": "c",
		".cpp": "cpp", ".cc": "cpp", ".rs": "rust", ".rb": "ruby", ".php": "php",
		".cs": "csharp", ".md": "markdown", ".yaml": "yaml", ".yml": "yaml",
		".json": "json", ".sh": "shell",
	}
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return "unknown"
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
