// Package id hands out ULIDs for accounts and ledger transactions.
//
// ULIDs sort lexicographically by creation time, so "ORDER BY id DESC" is a
// stable newest-first tiebreaker for transactions written in the same instant.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces monotonic ULIDs. The zero value is not usable; use
// NewGenerator.
type Generator struct {
	mu   sync.Mutex
	mono io.Reader
	now  func() time.Time
}

// NewGenerator returns a Generator stamping IDs with now(). A nil now uses
// the wall clock.
func NewGenerator(now func() time.Time) *Generator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{
		mono: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		now:  now,
	}
}

// New returns the next ULID string.
func (g *Generator) New() string {
	return g.At(g.now())
}

// At returns a ULID whose timestamp component is t. IDs handed out for the
// same millisecond remain strictly increasing.
func (g *Generator) At(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), g.mono)
	if err != nil {
		// only on entropy exhaustion within one millisecond
		panic(err)
	}
	return id.String()
}

var std = NewGenerator(nil)

// New returns a ULID from the process-wide generator.
func New() string { return std.New() }

// Time extracts the creation time encoded in a ULID string.
func Time(s string) (time.Time, error) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ulid.Time(u.Time()).UTC(), nil
}

// Valid reports whether s is a well-formed ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
