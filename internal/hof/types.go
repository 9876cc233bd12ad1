// Package hof implements the per-server crawl coordinator for a
// player-versus-player browser game's Hall-of-Fame leaderboard: the work
// queue, the action-selection state machine, the rate-limit and
// failure-recovery policy, the character/equipment index, and the backup
// encode/decode protocol.
package hof

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
)

// PER_PAGE matches the leaderboard page size (a small positive integer
// fixed by the game).
const PerPage = 30

// DefaultMinLevel and DefaultMaxLevel bound the level window applied to
// freshly-discovered accounts when no explicit window is configured.
const (
	DefaultMinLevel = 0
	DefaultMaxLevel = 9999
)

// ServerID is a 64-bit value derived from a normalized server URL. It is
// stable across runs of the crawler against the same server.
type ServerID uint64

// ServerIdent identifies a game server: its stable ID, its normalized URL,
// and the alphanumeric ident used as the backup-file basename and
// online-snapshot key.
type ServerIdent struct {
	ID   ServerID
	URL  string
	Name string
}

// NewServerIdent normalizes url (lowercased, leading "https:" and all "/"
// stripped) and derives the stable ServerID from the alphanumeric-only
// ident.
func NewServerIdent(url string) ServerIdent {
	url = strings.TrimPrefix(strings.Map(toLowerASCII, url), "https:")
	var normalized strings.Builder
	normalized.Grow(len(url))
	for _, r := range url {
		if r == '/' {
			continue
		}
		normalized.WriteRune(toLowerASCII(r))
	}
	norm := normalized.String()

	var ident strings.Builder
	ident.Grow(len(norm))
	for _, r := range norm {
		if isAlphanumeric(r) {
			ident.WriteRune(r)
		}
	}

	h := fnv.New64a()
	h.Write([]byte(ident.String()))

	return ServerIdent{
		ID:   ServerID(h.Sum64()),
		URL:  norm,
		Name: ident.String(),
	}
}

func toLowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func isAlphanumeric(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// PlayerID is the 32-bit uid assigned by the game server.
type PlayerID uint32

// QueID is an opaque token minted whenever the queue is re-initialized.
// Any outcome message carries the QueID of the action that produced it;
// the coordinator discards messages whose QueID no longer matches the
// current queue.
type QueID uint64

var queIDCounter atomic.Uint64

// NewQueID mints a fresh, process-unique QueID. Equality and uniqueness
// are the only requirements (spec.md §9), so a monotonic counter
// suffices; it is atomic because multiple coordinators in one process
// may mint QueIDs concurrently.
func NewQueID() QueID {
	return QueID(queIDCounter.Add(1))
}

// EquipmentIdent is an opaque equipment-piece key produced by the
// external parser.
type EquipmentIdent string

// Class is the player's character class, reported by the game server.
type Class string

// CharacterInfo is immutable once inserted into the index; a later fetch
// of the same uid replaces the prior record wholesale.
type CharacterInfo struct {
	UID       PlayerID         `json:"uid"`
	Name      string           `json:"name"`
	Level     uint32           `json:"level"`
	Class     *Class           `json:"class"`
	Stats     *uint32          `json:"stats"`
	FetchDate *string          `json:"fetch_date"` // YYYY-MM-DD, nil if unknown
	Equipment []EquipmentIdent `json:"equipment"`
}

// Order is one of the three page-ordering policies (component C1).
type Order string

const (
	OrderRandom   Order = "Random"
	OrderTopDown  Order = "TopDown"
	OrderBottomUp Order = "BottomUp"
)

// CrawlingState is the lifecycle a ServerInfo moves through.
type CrawlingState int

const (
	StateWaiting CrawlingState = iota
	StateRestoring
	StateCrawlingFailed
	StateCrawling
)

func (s CrawlingState) String() string {
	switch s {
	case StateWaiting:
		return "Waiting"
	case StateRestoring:
		return "Restoring"
	case StateCrawlingFailed:
		return "CrawlingFailed"
	case StateCrawling:
		return "Crawling"
	default:
		return fmt.Sprintf("CrawlingState(%d)", int(s))
	}
}

// ProgressReporter is the out-of-scope UI collaborator (spec.md §1); a
// caller may plug one in, but hof never depends on a concrete
// implementation. The zero value (nil) is always safe to call through
// the package's nil-checked helpers.
type ProgressReporter interface {
	SetRemaining(n int)
	SetMessage(msg string)
}
