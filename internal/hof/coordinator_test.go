package hof

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeSession is a minimal Session stub for worker/coordinator tests.
type fakeSession struct {
	pageErr      error
	viewErr      error
	lastPage     uint32
	lastViewName string
}

func (f *fakeSession) ServerURL() string { return "fake.example" }
func (f *fakeSession) Login(ctx context.Context) (RawResponse, error) {
	return nil, nil
}
func (f *fakeSession) Register(ctx context.Context, gender, race, class string) (RawResponse, error) {
	return nil, nil
}
func (f *fakeSession) SendHallOfFamePage(ctx context.Context, page uint32) (RawResponse, error) {
	f.lastPage = page
	return "page-resp", f.pageErr
}
func (f *fakeSession) SendViewPlayer(ctx context.Context, ident string) (RawResponse, error) {
	f.lastViewName = ident
	return "view-resp", f.viewErr
}

// fakeGameState is a minimal GameState stub.
type fakeGameState struct {
	updateErr   error
	players     []PlayerLevelEntry
	total       uint32
	lookupName  string
	lookupFound bool
	lookupChar  CharacterInfo
}

func (g *fakeGameState) Update(resp RawResponse) error              { return g.updateErr }
func (g *fakeGameState) PlayersTotal() uint32                       { return g.total }
func (g *fakeGameState) HallOfFamePlayers() []PlayerLevelEntry       { return g.players }
func (g *fakeGameState) LookupByName(name string) (CharacterInfo, bool) {
	if name == g.lookupName {
		return g.lookupChar, g.lookupFound
	}
	return CharacterInfo{}, false
}

func newTestCoordinator() (*ServerCoordinator, *fakeSession, *fakeGameState) {
	c := NewServerCoordinator(NewServerIdent("https://example.com"), nil)
	c.Queue = NewWorkerQueue(OrderRandom, DefaultMinLevel, DefaultMaxLevel)
	c.Index = NewCharacterIndex()
	sess := &fakeSession{}
	gs := &fakeGameState{}
	c.Session = sess
	c.GameState = gs
	return c, sess, gs
}

func TestWorkerCrawlPageSuccess(t *testing.T) {
	c, _, gs := newTestCoordinator()
	gs.players = []PlayerLevelEntry{{Name: "alice", Level: 50}}
	c.Queue.TodoPages = []uint32{3}

	w := c.NewWorker()
	msg := w.Crawl(context.Background())

	if msg.Kind != MsgPageCrawled {
		t.Fatalf("expected MsgPageCrawled, got %v", msg.Kind)
	}
	if len(c.Queue.TodoAccounts) != 1 || c.Queue.TodoAccounts[0] != "alice" {
		t.Fatalf("expected alice queued, got %v", c.Queue.TodoAccounts)
	}
	if len(c.Queue.InFlightPages) != 0 {
		t.Fatalf("expected page no longer in flight, got %v", c.Queue.InFlightPages)
	}
}

func TestWorkerCrawlCharacterNotFound(t *testing.T) {
	c, _, gs := newTestCoordinator()
	gs.lookupFound = false
	c.Queue.TodoAccounts = []string{"ghost"}

	w := c.NewWorker()
	msg := w.Crawl(context.Background())

	if msg.Kind != MsgCrawlerNoPlayerResult {
		t.Fatalf("expected MsgCrawlerNoPlayerResult, got %v", msg.Kind)
	}
	if _, inFlight := c.Queue.InFlightAccounts["ghost"]; inFlight {
		t.Fatalf("ghost should not remain in flight")
	}
	found := false
	for _, n := range c.Queue.InvalidAccounts {
		if n == "ghost" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ghost in InvalidAccounts, got %v", c.Queue.InvalidAccounts)
	}
}

func TestWorkerCrawlRateLimit(t *testing.T) {
	c, sess, _ := newTestCoordinator()
	sess.pageErr = errString("cannot do this right now2")
	c.Queue.TodoPages = []uint32{0}
	c.Gate = &RateLimitGate{Sleep: func(ctx context.Context, d time.Duration) {}}

	w := c.NewWorker()
	msg := w.Crawl(context.Background())

	if msg.Kind != MsgCrawlerUnable || msg.Err.Kind != ErrRateLimit {
		t.Fatalf("expected rate-limited CrawlerUnable, got %+v", msg)
	}
}

func TestCoordinatorStaleMessageRejected(t *testing.T) {
	c, _, _ := newTestCoordinator()
	staleQueID := c.Queue.QueID

	c.Queue.ResetWithTotalPages(100) // mints a new QueID, per S7

	c.Handle(Message{
		Kind:      MsgCharacterCrawled,
		QueID:     staleQueID,
		Character: CharacterInfo{UID: 1, Name: "alice", Level: 10},
	})

	if len(c.Index.PlayerInfo) != 0 {
		t.Fatalf("stale CharacterCrawled must not be merged, got %d entries", len(c.Index.PlayerInfo))
	}
}

func TestCoordinatorGenericFailureReenqueues(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.Queue.TodoPages = []uint32{0}
	action := c.Queue.NextAction() // page 0 now in flight

	c.Handle(Message{
		Kind:   MsgCrawlerUnable,
		Action: action,
		Err:    CrawlerError{Kind: ErrGeneric, Message: "boom"},
	})

	if len(c.Queue.InFlightPages) != 0 {
		t.Fatalf("expected page removed from in-flight after Generic failure, got %v", c.Queue.InFlightPages)
	}
	found := false
	for _, p := range c.Queue.TodoPages {
		if p == action.Page {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected page %d re-enqueued to TodoPages, got %v", action.Page, c.Queue.TodoPages)
	}
	if len(c.RecentFailures) != 1 {
		t.Fatalf("expected one recorded failure, got %d", len(c.RecentFailures))
	}
}

// TestCoordinatorTransportNotFoundMarksAccountInvalid pins spec.md §4.7:
// a transport-level NotFound (the server rejected the command itself,
// classified by ClassifyError rather than an absent GameState lookup)
// must still move the account out of in-flight and into InvalidAccounts,
// not leave it in-flight forever.
func TestCoordinatorTransportNotFoundMarksAccountInvalid(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.Queue.TodoAccounts = []string{"ghost"}
	action := c.Queue.NextAction() // "ghost" now in flight

	c.Handle(Message{
		Kind:   MsgCrawlerUnable,
		Action: action,
		Err:    CrawlerError{Kind: ErrNotFound, Message: "player not found"},
	})

	if _, inFlight := c.Queue.InFlightAccounts["ghost"]; inFlight {
		t.Fatalf("expected ghost removed from in-flight after transport NotFound")
	}
	found := false
	for _, n := range c.Queue.InvalidAccounts {
		if n == "ghost" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected ghost moved to InvalidAccounts, got %v", c.Queue.InvalidAccounts)
	}
}

// TestCoordinatorTransportNotFoundMarksPageInvalid covers the page side
// of the same conversion.
func TestCoordinatorTransportNotFoundMarksPageInvalid(t *testing.T) {
	c, _, _ := newTestCoordinator()
	c.Queue.TodoPages = []uint32{3}
	action := c.Queue.NextAction() // page 3 now in flight

	c.Handle(Message{
		Kind:   MsgCrawlerUnable,
		Action: action,
		Err:    CrawlerError{Kind: ErrNotFound, Message: "player not found"},
	})

	if len(c.Queue.InFlightPages) != 0 {
		t.Fatalf("expected page removed from in-flight after transport NotFound, got %v", c.Queue.InFlightPages)
	}
	if len(c.Queue.InvalidPages) != 1 || c.Queue.InvalidPages[0] != 3 {
		t.Fatalf("expected page 3 moved to InvalidPages, got %v", c.Queue.InvalidPages)
	}
}

func TestCoordinatorConcurrentHandle(t *testing.T) {
	c, _, _ := newTestCoordinator()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Handle(Message{
				Kind:      MsgCharacterCrawled,
				QueID:     c.Queue.QueID,
				Character: CharacterInfo{UID: PlayerID(i), Name: "p", Level: 1},
			})
		}(i)
	}
	wg.Wait()
	if len(c.Index.PlayerInfo) != 50 {
		t.Fatalf("expected 50 merged characters, got %d", len(c.Index.PlayerInfo))
	}
}
