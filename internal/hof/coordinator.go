package hof

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// maxRecentFailures bounds the failure ring kept for operator visibility
// (spec.md §4.7).
const maxRecentFailures = 20

// ServerCoordinator owns every piece of mutable state for one game
// server: the work queue, the character index, the session, and the
// crawling lifecycle. Each of its mutexes is taken and released in turn;
// it never holds the queue and index locks at the same time, so no lock
// ordering between them can deadlock.
//
// Grounded on the original's ServerInfo/CrawlingStatus (server.rs) and
// the message-handling match in main.rs's event loop (not present in the
// retrieved source, reconstructed from the Message variants crawler.rs
// defines and server.rs's CrawlingStatus fields).
type ServerCoordinator struct {
	Ident ServerIdent

	mu             sync.Mutex // guards State, LastUpdate, RecentFailures
	State          CrawlingState
	FailMsg        string
	LastUpdate     time.Time
	RecentFailures []CrawlAction

	QueueMu sync.Mutex
	Queue   *WorkerQueue

	IndexMu sync.Mutex
	Index   *CharacterIndex

	// SessionMu is shared among workers issuing requests (RLock) and
	// exclusive only for a future re-authentication (Lock); GameStateMu
	// is exclusive and held only while applying a single response
	// (spec.md §5).
	SessionMu   sync.RWMutex
	Session     Session
	GameStateMu sync.Mutex
	GameState   GameState

	Gate     *RateLimitGate
	Progress ProgressReporter

	// Telemetry, if set, receives a best-effort aggregate progress
	// snapshot on every reported event. A failure to record telemetry
	// never affects crawling itself.
	Telemetry ProgressSink

	// Notifier, if set, receives stalled/fully-crawled notifications.
	Notifier Notifier

	startedAt            time.Time
	notifiedFullyCrawled bool
	notifiedStalled      bool
}

// Notifier is the external collaborator that surfaces crawl-health
// events (internal/discord implements this).
type Notifier interface {
	NotifyStalled(serverIdent string, remaining int, sinceLastUpdate time.Duration, recentFailures int)
	NotifyFullyCrawled(serverIdent string, characterCount int, runtime time.Duration)
}

// ProgressSink is the external collaborator that persists an aggregate
// per-server progress snapshot (internal/telemetry implements this).
// hof depends only on the interface so the crawl core never imports a
// database driver.
type ProgressSink interface {
	Report(serverIdent string, queID uint64, remaining int, state string, lastUpdate time.Time) error
}

// NewServerCoordinator builds a coordinator in the Waiting state with no
// queue or index; callers must call Restore before crawling begins (Reset
// only restarts a queue that Restore already installed).
func NewServerCoordinator(ident ServerIdent, progress ProgressReporter) *ServerCoordinator {
	return &ServerCoordinator{
		Ident:    ident,
		State:    StateWaiting,
		Gate:     NewRateLimitGate(),
		Progress: progress,
	}
}

func (c *ServerCoordinator) report(msg string) {
	c.QueueMu.Lock()
	remaining, queID := 0, QueID(0)
	if c.Queue != nil {
		remaining = c.Queue.RemainingCount()
		queID = c.Queue.QueID
	}
	c.QueueMu.Unlock()

	if c.Progress != nil {
		c.Progress.SetMessage(msg)
		c.Progress.SetRemaining(remaining)
	}

	if c.Telemetry != nil {
		c.mu.Lock()
		state, lastUpdate := c.State.String(), c.LastUpdate
		c.mu.Unlock()
		// Best-effort: a telemetry outage must never interrupt crawling.
		_ = c.Telemetry.Report(c.Ident.Name, uint64(queID), remaining, state, lastUpdate)
	}
}

// Restore brings the coordinator into StateRestoring, then into
// StateCrawling once backup (possibly nil) and the current page count
// have been folded into a fresh queue and index (spec.md §4.2, §4.4).
func (c *ServerCoordinator) Restore(ctx context.Context, backup *BackupSnapshot, totalPages uint32) error {
	c.mu.Lock()
	c.State = StateRestoring
	c.mu.Unlock()

	q, idx, err := RestoreBackup(ctx, backup, totalPages)
	if err != nil {
		c.mu.Lock()
		c.State = StateCrawlingFailed
		c.FailMsg = err.Error()
		c.mu.Unlock()
		return err
	}

	c.QueueMu.Lock()
	c.Queue = q
	c.QueueMu.Unlock()

	c.IndexMu.Lock()
	c.Index = idx
	c.IndexMu.Unlock()

	c.mu.Lock()
	c.State = StateCrawling
	c.LastUpdate = time.Now()
	c.startedAt = time.Now()
	c.notifiedFullyCrawled = false
	c.notifiedStalled = false
	c.mu.Unlock()
	return nil
}

// Login authenticates (or registers) the crawler account used to read
// this server's leaderboard, storing the resulting Session and GameState
// for subsequent workers to share (spec.md §6 Supplement).
func (c *ServerCoordinator) Login(ctx context.Context, accountName string, newSession SessionFactory, newGameState GameStateFactory) error {
	session, gs, err := BootstrapLogin(ctx, accountName, c.Ident.URL, newSession, newGameState)
	if err != nil {
		c.mu.Lock()
		c.State = StateCrawlingFailed
		c.FailMsg = err.Error()
		c.mu.Unlock()
		return err
	}

	c.SessionMu.Lock()
	c.Session = session
	c.SessionMu.Unlock()

	c.GameStateMu.Lock()
	c.GameState = gs
	c.GameStateMu.Unlock()
	return nil
}

// Reset discards all in-flight and queued work and starts a new crawling
// generation (a user-initiated restart, spec.md §3 Lifecycle). The
// character index is left untouched: previously crawled characters are
// still valid results, only the work queue restarts.
func (c *ServerCoordinator) Reset() {
	c.QueueMu.Lock()
	if c.Queue != nil {
		c.Queue.Reset()
	}
	c.QueueMu.Unlock()

	c.mu.Lock()
	c.State = StateCrawling
	c.RecentFailures = nil
	c.FailMsg = ""
	c.startedAt = time.Now()
	c.notifiedFullyCrawled = false
	c.notifiedStalled = false
	c.mu.Unlock()
}

// NewWorker builds a Worker wired to this coordinator's shared state, for
// a single worker goroutine in the server's pool.
func (c *ServerCoordinator) NewWorker() *Worker {
	return &Worker{
		Server:      c.Ident.ID,
		Queue:       c.Queue,
		QueueMu:     &c.QueueMu,
		Session:     c.Session,
		SessionMu:   &c.SessionMu,
		GameState:   c.GameState,
		GameStateMu: &c.GameStateMu,
		Gate:        c.Gate,
	}
}

// RunWorkers launches n worker goroutines that each loop Crawl→Handle
// until ctx is cancelled, and blocks until all of them have returned
// (spec.md §4.6's worker pool).
func (c *ServerCoordinator) RunWorkers(ctx context.Context, n int) {
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := c.NewWorker()
			for ctx.Err() == nil {
				msg := w.Crawl(ctx)
				c.Handle(msg)
			}
		}()
	}
	wg.Wait()
}

// Handle applies the outcome of one crawl step to the coordinator's
// state (spec.md §4.7). It is safe to call concurrently from multiple
// worker goroutines.
func (c *ServerCoordinator) Handle(msg Message) {
	switch msg.Kind {
	case MsgCrawlerIdle, MsgCrawlerNoPlayerResult:
		c.report(msg.Kind.String())

	case MsgPageCrawled:
		c.report("page crawled")
		c.checkFullyCrawled()

	case MsgCharacterCrawled:
		c.QueueMu.Lock()
		stale := c.Queue == nil || msg.QueID != c.Queue.QueID
		c.QueueMu.Unlock()
		if stale {
			return
		}
		c.IndexMu.Lock()
		c.Index.Upsert(msg.Character)
		c.IndexMu.Unlock()

		c.mu.Lock()
		c.LastUpdate = time.Now()
		c.mu.Unlock()

		c.report(fmt.Sprintf("crawled %s", msg.Character.Name))
		c.checkFullyCrawled()

	case MsgCrawlerUnable:
		c.recordFailure(msg.Action)
		if msg.Err.Kind == ErrNotFound {
			c.markNotFoundInvalid(msg)
		} else {
			c.reenqueueOnGeneric(msg)
		}
	}
}

func (s MessageKind) String() string {
	switch s {
	case MsgCrawlerIdle:
		return "idle"
	case MsgPageCrawled:
		return "page crawled"
	case MsgCharacterCrawled:
		return "character crawled"
	case MsgCrawlerNoPlayerResult:
		return "no player result"
	case MsgCrawlerUnable:
		return "crawler unable"
	default:
		return "unknown"
	}
}

func (c *ServerCoordinator) recordFailure(action CrawlAction) {
	c.mu.Lock()
	c.RecentFailures = append(c.RecentFailures, action)
	ringFull := len(c.RecentFailures) >= maxRecentFailures && !c.notifiedStalled
	if len(c.RecentFailures) > maxRecentFailures {
		c.RecentFailures = c.RecentFailures[len(c.RecentFailures)-maxRecentFailures:]
	}
	if ringFull {
		c.notifiedStalled = true
	}
	sinceLastUpdate := time.Since(c.LastUpdate)
	failureCount := len(c.RecentFailures)
	c.mu.Unlock()

	if ringFull && c.Notifier != nil {
		c.QueueMu.Lock()
		remaining := 0
		if c.Queue != nil {
			remaining = c.Queue.RemainingCount()
		}
		c.QueueMu.Unlock()
		c.Notifier.NotifyStalled(c.Ident.Name, remaining, sinceLastUpdate, failureCount)
	}
}

// checkFullyCrawled notifies once per crawling generation when the queue
// reaches zero remaining work.
func (c *ServerCoordinator) checkFullyCrawled() {
	c.QueueMu.Lock()
	remaining := -1
	if c.Queue != nil {
		remaining = c.Queue.RemainingCount()
	}
	c.QueueMu.Unlock()
	if remaining != 0 {
		return
	}

	c.mu.Lock()
	already := c.notifiedFullyCrawled
	c.notifiedFullyCrawled = true
	runtime := time.Since(c.startedAt)
	c.mu.Unlock()
	if already || c.Notifier == nil {
		return
	}

	c.IndexMu.Lock()
	count := len(c.Index.PlayerInfo)
	c.IndexMu.Unlock()

	c.Notifier.NotifyFullyCrawled(c.Ident.Name, count, runtime)
}

// markNotFoundInvalid implements spec.md §4.7's "for NotFound, convert
// to CrawlerNoPlayerResult semantics": a transport-level NotFound (the
// server rejected the command itself, e.g. a stale ViewPlayer ident) gets
// the same invalid_accounts/invalid_pages treatment as the
// parser-absent path in worker.go's crawlCharacter, which never reaches
// Handle because it's reported as MsgCrawlerNoPlayerResult directly.
// Without this, the action's subject would stay in_flight forever.
func (c *ServerCoordinator) markNotFoundInvalid(msg Message) {
	c.QueueMu.Lock()
	defer c.QueueMu.Unlock()
	if c.Queue == nil || msg.Action.QueID != c.Queue.QueID {
		return
	}

	switch msg.Action.Kind {
	case ActionCharacter:
		c.Queue.MarkAccountInvalid(msg.Action.Name, msg.Action.QueID)
	case ActionPage:
		c.Queue.InFlightPages = removeUint32(c.Queue.InFlightPages, msg.Action.Page)
		c.Queue.InvalidPages = append(c.Queue.InvalidPages, msg.Action.Page)
	}
}

// reenqueueOnGeneric implements the resolved Open Question from spec.md
// §9: a Generic failure re-enqueues its action's subject so progress is
// never silently lost to a transient error. RateLimit needs no further
// action (the worker already slept through the gate); NotFound is
// handled by markNotFoundInvalid above, not here.
func (c *ServerCoordinator) reenqueueOnGeneric(msg Message) {
	if msg.Err.Kind != ErrGeneric {
		return
	}

	c.QueueMu.Lock()
	defer c.QueueMu.Unlock()
	if c.Queue == nil || msg.Action.QueID != c.Queue.QueID {
		return
	}

	switch msg.Action.Kind {
	case ActionPage:
		c.Queue.InFlightPages = removeUint32(c.Queue.InFlightPages, msg.Action.Page)
		c.Queue.TodoPages = append(c.Queue.TodoPages, msg.Action.Page)
	case ActionCharacter:
		delete(c.Queue.InFlightAccounts, msg.Action.Name)
		c.Queue.TodoAccounts = append(c.Queue.TodoAccounts, msg.Action.Name)
	}
}

// Snapshot builds a BackupSnapshot of the coordinator's current queue and
// index, suitable for WriteBackup.
func (c *ServerCoordinator) Snapshot() BackupSnapshot {
	c.IndexMu.Lock()
	characters := c.Index.Characters()
	c.IndexMu.Unlock()

	c.QueueMu.Lock()
	defer c.QueueMu.Unlock()
	return c.Queue.SnapshotForBackup(characters)
}
