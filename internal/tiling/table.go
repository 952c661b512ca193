package tiling

import "sync"

// AreaTable memoises PixelArea for the rows of one zoom level. Rows are
// filled lazily; a table is safe for concurrent use.
type AreaTable struct {
	zoom int

	mu   sync.RWMutex
	rows map[int64]float64
}

func NewAreaTable(zoom int) (*AreaTable, error) {
	if err := validateZoom(zoom); err != nil {
		return nil, err
	}
	return &AreaTable{zoom: zoom, rows: make(map[int64]float64)}, nil
}

func (t *AreaTable) Zoom() int { return t.zoom }

// Area returns PixelArea(row, zoom), computing it at most once per row.
func (t *AreaTable) Area(row int64) (float64, error) {
	t.mu.RLock()
	a, ok := t.rows[row]
	t.mu.RUnlock()
	if ok {
		return a, nil
	}

	a, err := PixelArea(row, t.zoom)
	if err != nil {
		return 0, err
	}
	t.mu.Lock()
	t.rows[row] = a
	t.mu.Unlock()
	return a, nil
}

// Len reports how many rows have been computed so far.
func (t *AreaTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
