package fetch

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MemoryHub connects writers and readers living in one process. Each
// writer gets its own Table; readers fetch straight from it.
type MemoryHub struct {
	logger *zap.Logger

	mu     sync.Mutex
	tables map[int]*Table
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub(logger *zap.Logger) *MemoryHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryHub{logger: logger, tables: make(map[int]*Table)}
}

// Writer returns the exposer for writer w.
func (h *MemoryHub) Writer(w int) Exposer {
	return h.table(w)
}

// Fetch implements Fetcher.
func (h *MemoryHub) Fetch(ctx context.Context, req Request) ([]byte, error) {
	return h.table(req.Writer).Serve(ctx, req.Step, req.Reader, req.Ranges)
}

// Close closes every writer's table.
func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var err error
	for _, t := range h.tables {
		err = multierr.Append(err, t.Close())
	}
	return err
}

func (h *MemoryHub) table(w int) *Table {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.tables[w]
	if !ok {
		t = NewTable(h.logger.With(zap.Int("writer", w)))
		h.tables[w] = t
	}
	return t
}
