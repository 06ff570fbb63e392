package litepool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrNoImporter = errors.New("no importer registered")

// Wildcard registers an importer for every format without its own entry.
const Wildcard = "*"

// Mux picks an importer by file format.
type Mux struct {
	entries map[string]muxEntry
	mu      *sync.RWMutex
}

type muxEntry struct {
	imp    Importer
	format string
}

func NewMux() *Mux {
	return &Mux{
		entries: make(map[string]muxEntry),
		mu:      &sync.RWMutex{},
	}
}

// Handle is used to register an importer for a format such as "gltf" or ".obj"
func (m *Mux) Handle(format string, imp Importer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	format = normalizeFormat(format)
	m.entries[format] = muxEntry{
		imp:    imp,
		format: format,
	}
}

// match finds an importer in entries given a format.
func (m *Mux) match(format string) Importer {
	if v, ok := m.entries[format]; ok {
		return v.imp
	}

	if v, ok := m.entries[Wildcard]; ok {
		return v.imp
	}

	return nil
}

// Import dispatches the request to the importer registered for its format.
func (m *Mux) Import(ctx context.Context, req *Request) (*Model, error) {
	return m.Importer(req).Import(ctx, req)
}

// Importer returns the importer to use for the given request.
// It always returns a non-nil importer.
//
// If there is no registered importer that applies to the request,
// Importer returns a 'not found' importer which returns an error.
func (m *Mux) Importer(req *Request) Importer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	imp := m.match(req.Format())
	if imp == nil {
		imp = NotFoundImporter()
	}

	return imp
}

// NotFound returns an error indicating that no importer handles the request's format.
func NotFound(_ context.Context, req *Request) (*Model, error) {
	return nil, fmt.Errorf("%w for format %q (%s)", ErrNoImporter, req.Format(), req.Path)
}

// NotFoundImporter returns a simple importer that returns a “not found“ error.
func NotFoundImporter() Importer { return ImporterFunc(NotFound) }

func normalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(format), ".")
}
