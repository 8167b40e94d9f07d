// Package pagination implements keyset cursors for newest-first listings.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for cursors this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Cursor marks the last row of a page. Rows strictly older than it, or
// equally old with a smaller ID, come next.
type Cursor struct {
	At time.Time
	ID string
}

// Encode returns the opaque form of (at, id).
func Encode(at time.Time, id string) string {
	raw := strconv.FormatInt(at.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor. Empty input is no cursor.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{At: time.Unix(0, n).UTC(), ID: id}, nil
}

// After reports whether a row keyed (at, id) belongs after c in
// newest-first order. A nil cursor admits everything.
func (c *Cursor) After(at time.Time, id string) bool {
	if c == nil {
		return true
	}
	if at.Equal(c.At) {
		return id < c.ID
	}
	return at.Before(c.At)
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Paginate trims items, fetched with limit+1, to limit and derives the
// next cursor from the last kept item.
func Paginate[T any](items []T, limit int, key func(T) (time.Time, string)) Page[T] {
	if items == nil {
		items = []T{}
	}
	if len(items) <= limit {
		return Page[T]{Items: items}
	}
	items = items[:limit]
	at, id := key(items[len(items)-1])
	return Page[T]{Items: items, NextCursor: Encode(at, id), HasMore: true}
}

// ParseLimit reads a page size, falling back to DefaultLimit and capping at
// MaxLimit.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}
