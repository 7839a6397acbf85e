package journal

import (
	"context"
	"sync"
)

// Memory keeps the most recent exchanges in a fixed-size ring along with
// running counters. The status API reads it while a fixture writes to it.
type Memory struct {
	mu    sync.RWMutex
	ring  []Exchange
	next  int
	full  bool
	stats Stats
}

// Stats are running totals since process start.
type Stats struct {
	Total    int64                         `json:"total"`
	Errors   int64                         `json:"errors"`
	BytesIn  int64                         `json:"bytes_in"`
	BytesOut int64                         `json:"bytes_out"`
	Commands map[Protocol]map[string]int64 `json:"commands"`
}

// NewMemory returns a ring holding up to size exchanges.
func NewMemory(size int) *Memory {
	if size < 1 {
		size = 1
	}
	return &Memory{
		ring:  make([]Exchange, size),
		stats: Stats{Commands: make(map[Protocol]map[string]int64)},
	}
}

func (m *Memory) Record(_ context.Context, ex Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ring[m.next] = ex
	m.next = (m.next + 1) % len(m.ring)
	if m.next == 0 {
		m.full = true
	}

	m.stats.Total++
	if ex.Error != "" {
		m.stats.Errors++
	}
	m.stats.BytesIn += int64(ex.BytesIn)
	m.stats.BytesOut += int64(ex.BytesOut)
	byCmd, ok := m.stats.Commands[ex.Protocol]
	if !ok {
		byCmd = make(map[string]int64)
		m.stats.Commands[ex.Protocol] = byCmd
	}
	byCmd[string(ex.Command)]++
	return nil
}

// Recent returns up to n exchanges, newest first.
func (m *Memory) Recent(n int) []Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Exchange, 0, n)
	for i := 1; i <= n; i++ {
		idx := (m.next - i + len(m.ring)) % len(m.ring)
		out = append(out, m.ring[idx])
	}
	return out
}

// Capacity is the ring size.
func (m *Memory) Capacity() int {
	return len(m.ring)
}

// Snapshot returns a copy of the running counters.
func (m *Memory) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.stats
	out.Commands = make(map[Protocol]map[string]int64, len(m.stats.Commands))
	for proto, byCmd := range m.stats.Commands {
		cp := make(map[string]int64, len(byCmd))
		for k, v := range byCmd {
			cp[k] = v
		}
		out.Commands[proto] = cp
	}
	return out
}
