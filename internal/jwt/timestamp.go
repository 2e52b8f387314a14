package jwt

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// keyTimestampLayout es la parte de segundos; los milisegundos van como sufijo "_mmm".
// Sin ':' ni '.' para que sirva como kid y en paths. Ej: 2026-10-19T14_03_07_042
const keyTimestampLayout = "2006-01-02T15_04_05"

// TimestampClock entrega key timestamps estrictamente crecientes dentro del proceso.
// Entre procesos la unicidad la garantiza el store (ErrConflict + reintento).
type TimestampClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
}

func NewTimestampClock(now func() time.Time) *TimestampClock {
	if now == nil {
		now = time.Now
	}
	return &TimestampClock{now: now}
}

var defaultClock = NewTimestampClock(nil)

// NewKeyTimestamp devuelve un key timestamp nuevo usando el reloj del proceso.
func NewKeyTimestamp() string { return defaultClock.Next() }

// Next devuelve el próximo timestamp; si el reloj no avanzó (o retrocedió) suma 1ms al último.
func (c *TimestampClock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now().UTC().Truncate(time.Millisecond)
	if !t.After(c.last) {
		t = c.last.Add(time.Millisecond)
	}
	c.last = t
	return FormatKeyTimestamp(t)
}

// FormatKeyTimestamp formatea t (UTC, precisión de milisegundos).
func FormatKeyTimestamp(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s_%03d", t.Format(keyTimestampLayout), t.Nanosecond()/int(time.Millisecond))
}

// ParseKeyTimestamp es la inversa de FormatKeyTimestamp.
func ParseKeyTimestamp(s string) (time.Time, error) {
	i := strings.LastIndexByte(s, '_')
	if i < 0 || len(s)-i != 4 {
		return time.Time{}, fmt.Errorf("invalid key timestamp %q", s)
	}
	ms, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid key timestamp %q: %w", s, err)
	}
	t, err := time.ParseInLocation(keyTimestampLayout, s[:i], time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(time.Duration(ms) * time.Millisecond), nil
}
