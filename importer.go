package litepool

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// An Importer turns a file into an in-memory Model.
//
// Importers are not expected to be safe for concurrent use: the Loader
// keeps a fixed set of them and lends each one to a single task at a time.
type Importer interface {
	Import(context.Context, *Request) (*Model, error)
}

// The ImporterFunc type is an adapter to allow the use of
// ordinary functions as an Importer.
type ImporterFunc func(context.Context, *Request) (*Model, error)

// Import calls fn(ctx, req)
func (fn ImporterFunc) Import(ctx context.Context, req *Request) (*Model, error) {
	return fn(ctx, req)
}

// Request describes one import attempt.
type Request struct {
	ID   string
	Path string

	// Attempt starts at 1 and grows with every retry
	Attempt int
}

func (r *Request) Format() string { return formatOf(r.Path) }

// Model is the in-memory result of an import. Once pushed to the loader's
// results it belongs to whoever polls it.
type Model struct {
	Path       string
	Format     string
	Data       []byte
	ImportedAt time.Time
}

func (m *Model) Size() int { return len(m.Data) }

// Result is what the consumer receives for every Load call, successful or not.
type Result struct {
	ID       string
	Path     string
	Model    *Model
	Err      error
	Attempts int
}

// FileImporter reads a file into memory. It reuses one read buffer across
// imports and must not be shared between goroutines.
type FileImporter struct {
	// files larger than MaxSize are refused, zero means no limit
	MaxSize int64

	buf bytes.Buffer
}

func NewFileImporter() *FileImporter {
	return &FileImporter{}
}

func (fi *FileImporter) Import(ctx context.Context, req *Request) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if fi.MaxSize > 0 {
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		if st.Size() > fi.MaxSize {
			return nil, fmt.Errorf("%s is %d bytes, limit is %d", req.Path, st.Size(), fi.MaxSize)
		}
	}

	fi.buf.Reset()
	if _, err = fi.buf.ReadFrom(f); err != nil {
		return nil, err
	}

	// the buffer is reused by the next import
	data := make([]byte, fi.buf.Len())
	copy(data, fi.buf.Bytes())

	return &Model{
		Path:       req.Path,
		Format:     req.Format(),
		Data:       data,
		ImportedAt: time.Now(),
	}, nil
}

func formatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
