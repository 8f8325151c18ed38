// Package offline allocates provisional positions for tasks created while disconnected.
//
// Counters are process-local and best effort: a restart before reconnecting resets them, and
// the comparator's created_at tie-break plus a later rebalance absorb any collision.
package offline

import (
	"strings"
	"sync"
)

// Cache holds one monotonic counter per scope key. The zero value is ready to use.
type Cache struct {
	mu       sync.Mutex
	counters map[string]int64
}

func New() *Cache {
	return &Cache{counters: map[string]int64{}}
}

// NextPosition returns 1 on the first call for key and one more on every following call.
func (c *Cache) NextPosition(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counters == nil {
		c.counters = map[string]int64{}
	}
	c.counters[key]++
	return c.counters[key]
}

// Peek returns the last value handed out for key, or 0.
func (c *Cache) Peek(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key]
}

// Clear resets one scope. Clearing an unknown key is a no-op.
func (c *Cache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counters, key)
}

func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = map[string]int64{}
}

// Keys returns the scopes that currently hold a counter.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.counters))
	for k := range c.counters {
		out = append(out, k)
	}
	return out
}

// ScopeKey builds "table:field=value,field=value" in field order. Missing values are empty.
func ScopeKey(table string, fields []string, values map[string]string) string {
	var b strings.Builder
	b.WriteString(table)
	b.WriteByte(':')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(f)
		b.WriteByte('=')
		b.WriteString(values[f])
	}
	return b.String()
}

// Default is the process-wide cache used by the package-level helpers.
var Default = New()

func NextPosition(key string) int64 { return Default.NextPosition(key) }

// ClearPositionCache clears one scope, or every scope when key is "".
func ClearPositionCache(key string) {
	if key == "" {
		Default.ClearAll()
		return
	}
	Default.Clear(key)
}
