package hof

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// RawResponse is the opaque, server-specific payload a Session command
// returns. hof never parses it directly; a GameState implementation does.
type RawResponse any

// Session is the external collaborator that actually talks to a game
// server (spec.md §6). hof depends only on this interface so the crawler
// core stays free of any particular wire protocol or HTTP client.
type Session interface {
	ServerURL() string
	Login(ctx context.Context) (RawResponse, error)
	Register(ctx context.Context, gender, race, class string) (RawResponse, error)
	SendHallOfFamePage(ctx context.Context, page uint32) (RawResponse, error)
	SendViewPlayer(ctx context.Context, ident string) (RawResponse, error)
}

// GameState is the external collaborator that turns a RawResponse into
// structured data: the reported leaderboard page and a per-player lookup
// (spec.md §6).
type GameState interface {
	// Update folds resp into the game state, returning an error if the
	// server reported a failure for the command that produced resp.
	Update(resp RawResponse) error

	// PlayersTotal is the leaderboard's reported total entry count, used
	// to compute the page count for CrawlAction InitTodo.
	PlayersTotal() uint32

	// HallOfFamePlayers returns the {name, level} pairs from the most
	// recently ingested hall-of-fame page.
	HallOfFamePlayers() []PlayerLevelEntry

	// LookupByName returns the full character sheet for name, if the most
	// recently ingested ViewPlayer response was for that account.
	LookupByName(name string) (CharacterInfo, bool)
}

// CrawlerError classifies a Session/GameState failure into the three
// outcomes the coordinator reacts to differently (spec.md §7).
type CrawlerError struct {
	Kind    CrawlerErrorKind
	Message string
}

// CrawlerErrorKind discriminates CrawlerError values.
type CrawlerErrorKind int

const (
	// ErrGeneric is any failure not recognized as one of the other kinds.
	ErrGeneric CrawlerErrorKind = iota
	// ErrNotFound means the server reported the requested account does
	// not exist.
	ErrNotFound
	// ErrRateLimit means the server is throttling this session; the
	// worker must wait out the current rate-limit window before retrying.
	ErrRateLimit
)

func (e CrawlerError) Error() string {
	switch e.Kind {
	case ErrRateLimit:
		return "rate limited"
	case ErrNotFound:
		return "player not found"
	default:
		if e.Message != "" {
			return e.Message
		}
		return "crawler error"
	}
}

// rate-limit and not-found are recognized by the exact server-reported
// strings the game protocol uses (spec.md §7, grounded on the original
// CrawlerError::from_err).
const (
	serverMsgRateLimit = "cannot do this right now2"
	serverMsgNotFound  = "player not found"
)

// ClassifyError turns an arbitrary Session/GameState error into a
// CrawlerError. A plain errors.Is/As unwrap is tried first so callers can
// wrap a sentinel; otherwise the error's message is pattern-matched
// against the two known server-reported strings.
func ClassifyError(err error) CrawlerError {
	if err == nil {
		return CrawlerError{Kind: ErrGeneric}
	}
	var ce CrawlerError
	if errors.As(err, &ce) {
		return ce
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, serverMsgRateLimit):
		return CrawlerError{Kind: ErrRateLimit, Message: msg}
	case strings.Contains(msg, serverMsgNotFound):
		return CrawlerError{Kind: ErrNotFound, Message: msg}
	default:
		return CrawlerError{Kind: ErrGeneric, Message: msg}
	}
}

// Genders/races/classes offered to a freshly registered crawler account.
// The crawler does not care which one it gets; any playable character can
// read the hall of fame.
var (
	allGenders = []string{"female", "male"}
	allRaces   = []string{"human", "elf", "dwarf", "gnome", "orc", "dark_elf", "goblin", "demon"}
	allClasses = []string{
		"warrior", "mage", "scout", "assassin", "battle_mage",
		"berserker", "demon_hunter", "druid", "bard", "necromancer",
	}
)

// reversePassword mirrors the original crawler's account-recovery trick:
// a disposable account's password is just its name, reversed. There is
// nothing to recover here, so there is nothing to remember.
func reversePassword(name string) string {
	r := []rune(name)
	for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
		r[i], r[j] = r[j], r[i]
	}
	return string(r)
}

// SessionFactory constructs a fresh, not-yet-authenticated Session for
// name on the given server URL. Supplied by the caller so hof never
// depends on a concrete transport.
type SessionFactory func(name, password, serverURL string) Session

// GameStateFactory turns a login/register RawResponse into a GameState.
type GameStateFactory func(resp RawResponse) (GameState, error)

// BootstrapLogin logs a disposable crawler account in, registering it
// with a random gender/race/class if it does not yet exist (spec.md §6
// Supplement, grounded on the original CrawlerState::try_login). The
// account name's reverse is used as its password; there is no secret to
// manage since the account exists only to read public leaderboard pages.
//
// On a freshly registered account the server needs a moment to finish
// provisioning before it will answer other commands, so BootstrapLogin
// sleeps 3 seconds after a successful registration. This sleep is skipped
// on an ordinary login.
func BootstrapLogin(ctx context.Context, name, serverURL string, newSession SessionFactory, newGameState GameStateFactory) (Session, GameState, error) {
	password := reversePassword(name)
	session := newSession(name, password, serverURL)

	if resp, err := session.Login(ctx); err == nil {
		gs, err := newGameState(resp)
		if err != nil {
			return nil, nil, fmt.Errorf("hof: parsing login response for %s: %w", name, err)
		}
		return session, gs, nil
	}

	gender := allGenders[rand.Intn(len(allGenders))]
	race := allRaces[rand.Intn(len(allRaces))]
	class := allClasses[rand.Intn(len(allClasses))]

	resp, err := session.Register(ctx, gender, race, class)
	if err != nil {
		return nil, nil, fmt.Errorf("hof: registering crawler account %s: %w", name, err)
	}
	gs, err := newGameState(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("hof: parsing registration response for %s: %w", name, err)
	}

	select {
	case <-time.After(3 * time.Second):
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	return session, gs, nil
}
