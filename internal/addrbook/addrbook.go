// Package addrbook is the single table of well-known addresses consulted by
// every provider: known-safe entities, block builders and the baseline
// sanctions list. The table ships embedded in the binary; Parse accepts the
// same JSON shape for tests and alternate tables.
package addrbook

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mbd888/walletrisk/internal/risk"
)

//go:embed addresses.json
var embedded []byte

// Category classifies an address book entry.
type Category string

const (
	CategoryKnownSafe  Category = "known_safe"
	CategoryBuilder    Category = "builder"
	CategorySanctioned Category = "sanctioned"
)

// Entry is one labelled address.
type Entry struct {
	Address   risk.Address `json:"address"`
	Label     string       `json:"label,omitempty"`
	Kind      string       `json:"kind,omitempty"`
	Category  Category     `json:"category"`
	Entity    string       `json:"entity,omitempty"`
	Reference string       `json:"reference,omitempty"`
	Network   string       `json:"network,omitempty"`
	Asset     string       `json:"asset,omitempty"`
}

type rawBook struct {
	KnownSafe  []Entry `json:"knownSafe"`
	Builders   []Entry `json:"builders"`
	Sanctioned []Entry `json:"sanctioned"`
}

// Book is an immutable lookup table keyed by normalized address.
type Book struct {
	entries    map[risk.Address]Entry
	sanctioned []Entry
}

var (
	defaultOnce sync.Once
	defaultBook *Book
)

// Default returns the embedded address book. It panics if the embedded
// table is malformed, which only a broken build can cause.
func Default() *Book {
	defaultOnce.Do(func() {
		b, err := Parse(embedded)
		if err != nil {
			panic("addrbook: embedded table: " + err.Error())
		}
		defaultBook = b
	})
	return defaultBook
}

// Parse builds a Book from JSON. When an address appears in more than one
// section the sanctioned entry wins, then builder, then known-safe.
// 0x-prefixed entries must be valid hex; full-length ones must be 20-byte
// addresses.
func Parse(data []byte) (*Book, error) {
	var raw rawBook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("addrbook: decode: %w", err)
	}

	b := &Book{entries: make(map[risk.Address]Entry)}
	add := func(list []Entry, cat Category) error {
		for _, e := range list {
			addr := risk.NormalizeAddress(string(e.Address))
			if addr == "" {
				return fmt.Errorf("addrbook: empty address in %s section", cat)
			}
			if err := checkHex(addr); err != nil {
				return fmt.Errorf("addrbook: %s section: %w", cat, err)
			}
			e.Address = addr
			e.Category = cat
			b.entries[addr] = e
			if cat == CategorySanctioned {
				b.sanctioned = append(b.sanctioned, e)
			}
		}
		return nil
	}
	if err := add(raw.KnownSafe, CategoryKnownSafe); err != nil {
		return nil, err
	}
	if err := add(raw.Builders, CategoryBuilder); err != nil {
		return nil, err
	}
	if err := add(raw.Sanctioned, CategorySanctioned); err != nil {
		return nil, err
	}
	return b, nil
}

func checkHex(addr risk.Address) error {
	s := string(addr)
	if !strings.HasPrefix(s, "0x") {
		return nil
	}
	if len(s) == 2+2*common.AddressLength {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("invalid address %q", s)
		}
		return nil
	}
	if _, err := hexutil.Decode(s); err != nil {
		return fmt.Errorf("invalid hex address %q: %w", s, err)
	}
	return nil
}

// Lookup returns the entry for addr, if any.
func (b *Book) Lookup(addr risk.Address) (Entry, bool) {
	e, ok := b.entries[risk.NormalizeAddress(string(addr))]
	return e, ok
}

// KnownSafe reports whether addr is an allow-listed entity.
func (b *Book) KnownSafe(addr risk.Address) (Entry, bool) {
	return b.lookupCategory(addr, CategoryKnownSafe)
}

// Builder reports whether addr is a known block builder.
func (b *Book) Builder(addr risk.Address) (Entry, bool) {
	return b.lookupCategory(addr, CategoryBuilder)
}

// Sanctioned returns the baseline sanctions entries in table order.
func (b *Book) Sanctioned() []Entry {
	out := make([]Entry, len(b.sanctioned))
	copy(out, b.sanctioned)
	return out
}

// Len returns the number of distinct addresses in the book.
func (b *Book) Len() int { return len(b.entries) }

func (b *Book) lookupCategory(addr risk.Address, cat Category) (Entry, bool) {
	e, ok := b.Lookup(addr)
	if !ok || e.Category != cat {
		return Entry{}, false
	}
	return e, true
}
