package hof

import (
	"context"
	"sync"
	"time"
)

// MessageKind discriminates the outcomes a worker reports back to its
// coordinator (spec.md §4.6).
type MessageKind int

const (
	MsgCrawlerIdle MessageKind = iota
	MsgPageCrawled
	MsgCharacterCrawled
	MsgCrawlerNoPlayerResult
	MsgCrawlerUnable
)

// Message is the unit a Worker sends back to its coordinator after each
// crawl step.
type Message struct {
	Kind      MessageKind
	Server    ServerID
	QueID     QueID
	Character CharacterInfo
	Action    CrawlAction
	Err       CrawlerError
}

// Worker executes CrawlActions against a single session, translating
// their outcomes into Messages. It holds no state of its own beyond what
// it needs to reach the queue, the game state, and the rate-limit gate;
// the coordinator is the sole owner of all of those (spec.md §4.6,
// grounded on the original Crawler::crawl).
type Worker struct {
	Server ServerID

	Queue   *WorkerQueue
	QueueMu *sync.Mutex

	Session Session
	// SessionMu is held shared (RLock) while issuing a request: requests
	// don't mutate the session, so many workers may hold it at once.
	// Only a future re-authentication would need the exclusive Lock
	// (spec.md §4.6, §5).
	SessionMu *sync.RWMutex

	GameState GameState
	// GameStateMu is exclusive and held only for the duration of a single
	// Update call, never across the network request that produced the
	// response being applied (spec.md §4.6, §5).
	GameStateMu *sync.Mutex

	Gate *RateLimitGate
}

// Crawl pulls one action from the queue and executes it, returning the
// resulting Message. It never blocks holding QueueMu across a network
// call, and it releases SessionMu before acquiring GameStateMu to apply
// the response, matching the "never hold a lock across I/O" rule of
// spec.md §5.
func (w *Worker) Crawl(ctx context.Context) Message {
	w.QueueMu.Lock()
	action := w.Queue.NextAction()
	w.QueueMu.Unlock()

	switch action.Kind {
	case ActionWait:
		sleepCtx(ctx, time.Second)
		return Message{Kind: MsgCrawlerIdle, Server: w.Server}

	case ActionPage:
		return w.crawlPage(ctx, action)

	case ActionCharacter:
		return w.crawlCharacter(ctx, action)

	case ActionInitTodo:
		return w.crawlInitTodo(ctx)

	default:
		return Message{Kind: MsgCrawlerIdle, Server: w.Server}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (w *Worker) crawlPage(ctx context.Context, action CrawlAction) Message {
	w.SessionMu.RLock()
	resp, err := w.Session.SendHallOfFamePage(ctx, action.Page)
	w.SessionMu.RUnlock()
	if err != nil {
		ce := ClassifyError(err)
		if ce.Kind == ErrRateLimit {
			w.Gate.Wait(ctx)
		}
		return Message{Kind: MsgCrawlerUnable, Server: w.Server, Action: action, Err: ce}
	}

	w.GameStateMu.Lock()
	if err := w.GameState.Update(resp); err != nil {
		w.GameStateMu.Unlock()
		return Message{Kind: MsgCrawlerUnable, Server: w.Server, Action: action, Err: ClassifyError(err)}
	}
	entries := w.GameState.HallOfFamePlayers()
	w.GameStateMu.Unlock()

	w.QueueMu.Lock()
	w.Queue.IngestPageResults(entries)
	w.Queue.FinishPage(action.Page)
	w.QueueMu.Unlock()

	return Message{Kind: MsgPageCrawled, Server: w.Server}
}

func (w *Worker) crawlCharacter(ctx context.Context, action CrawlAction) Message {
	w.SessionMu.RLock()
	resp, err := w.Session.SendViewPlayer(ctx, action.Name)
	w.SessionMu.RUnlock()
	if err != nil {
		ce := ClassifyError(err)
		if ce.Kind == ErrRateLimit {
			w.Gate.Wait(ctx)
		}
		return Message{Kind: MsgCrawlerUnable, Server: w.Server, Action: action, Err: ce}
	}

	w.GameStateMu.Lock()
	if err := w.GameState.Update(resp); err != nil {
		w.GameStateMu.Unlock()
		return Message{Kind: MsgCrawlerUnable, Server: w.Server, Action: action, Err: ClassifyError(err)}
	}
	character, found := w.GameState.LookupByName(action.Name)
	w.GameStateMu.Unlock()

	if !found {
		w.QueueMu.Lock()
		w.Queue.MarkAccountInvalid(action.Name, action.QueID)
		w.QueueMu.Unlock()
		return Message{Kind: MsgCrawlerNoPlayerResult, Server: w.Server}
	}

	w.QueueMu.Lock()
	w.Queue.FinishAccount(action.Name)
	w.QueueMu.Unlock()

	return Message{
		Kind:      MsgCharacterCrawled,
		Server:    w.Server,
		QueID:     action.QueID,
		Character: character,
	}
}

func (w *Worker) crawlInitTodo(ctx context.Context) Message {
	w.GameStateMu.Lock()
	total := w.GameState.PlayersTotal()
	w.GameStateMu.Unlock()

	pages := uint32(0)
	if total > 0 {
		pages = (total + PerPage - 1) / PerPage
	}

	w.QueueMu.Lock()
	w.Queue.ResetWithTotalPages(pages)
	w.QueueMu.Unlock()

	return Message{Kind: MsgCrawlerIdle, Server: w.Server}
}
