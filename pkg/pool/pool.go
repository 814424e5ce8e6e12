// Package pool provides object pooling for rule engine reports.
//
// Rendering reports and graph documents builds many short-lived strings.
// Pooling the builders and scratch slices keeps that churn off the GC when
// the server answers many requests.
//
// Pooled objects:
// - String builders (report text, DOT documents)
// - String slices (label lists)
//
// Usage:
//
//	sb := pool.GetStringBuilder()
//	defer pool.PutStringBuilder(sb)
//
//	sb.WriteString("r1 -> r2")
//	text := sb.String()
package pool

import (
	"fmt"
	"sync"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxBuilderBytes is the largest builder capacity returned to the pool.
	MaxBuilderBytes int
}

var (
	configMu     sync.RWMutex
	globalConfig = PoolConfig{
		Enabled:         true,
		MaxBuilderBytes: 64 * 1024,
	}
)

// Configure sets global pool configuration.
// Should be called early during initialization.
func Configure(config PoolConfig) {
	if config.MaxBuilderBytes <= 0 {
		config.MaxBuilderBytes = 64 * 1024
	}
	configMu.Lock()
	globalConfig = config
	configMu.Unlock()
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig.Enabled
}

func current() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// =============================================================================
// String Builder Pool
// =============================================================================

var stringBuilderPool = sync.Pool{
	New: func() any {
		return &PooledStringBuilder{buf: make([]byte, 0, 512)}
	},
}

// PooledStringBuilder is a poolable string builder. It implements io.Writer
// so renderers can stream into it.
type PooledStringBuilder struct {
	buf []byte
}

// Write appends p. It never fails.
func (b *PooledStringBuilder) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// WriteString appends a string to the builder.
func (b *PooledStringBuilder) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// WriteByte appends a byte to the builder.
func (b *PooledStringBuilder) WriteByte(c byte) error {
	b.buf = append(b.buf, c)
	return nil
}

// Printf appends formatted text.
func (b *PooledStringBuilder) Printf(format string, args ...any) {
	b.buf = fmt.Appendf(b.buf, format, args...)
}

// String returns the built string.
func (b *PooledStringBuilder) String() string {
	return string(b.buf)
}

// Bytes returns a copy of the built bytes.
func (b *PooledStringBuilder) Bytes() []byte {
	return append([]byte(nil), b.buf...)
}

// Len returns current length.
func (b *PooledStringBuilder) Len() int {
	return len(b.buf)
}

// Reset clears the builder for reuse.
func (b *PooledStringBuilder) Reset() {
	b.buf = b.buf[:0]
}

// GetStringBuilder returns a string builder from the pool.
func GetStringBuilder() *PooledStringBuilder {
	if !IsEnabled() {
		return &PooledStringBuilder{buf: make([]byte, 0, 512)}
	}
	b := stringBuilderPool.Get().(*PooledStringBuilder)
	b.Reset()
	return b
}

// PutStringBuilder returns a string builder to the pool.
func PutStringBuilder(b *PooledStringBuilder) {
	cfg := current()
	if !cfg.Enabled || b == nil {
		return
	}
	if cap(b.buf) > cfg.MaxBuilderBytes { // Don't pool huge buffers
		return
	}
	b.Reset()
	stringBuilderPool.Put(b)
}

// =============================================================================
// String Slice Pool
// =============================================================================

var stringSlicePool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 16)
		return &s
	},
}

// GetStringSlice returns an empty string slice from the pool.
func GetStringSlice() *[]string {
	if !IsEnabled() {
		s := make([]string, 0, 16)
		return &s
	}
	s := stringSlicePool.Get().(*[]string)
	*s = (*s)[:0]
	return s
}

// PutStringSlice returns a string slice to the pool.
func PutStringSlice(s *[]string) {
	if !IsEnabled() || s == nil {
		return
	}
	if cap(*s) > 1024 {
		return
	}
	clear(*s)
	*s = (*s)[:0]
	stringSlicePool.Put(s)
}
