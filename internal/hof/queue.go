package hof

import "time"

// PlayerLevelEntry is a {name, level} pair reported by a hall-of-fame page
// (spec.md §6, "game_state.hall_of_fame.players").
type PlayerLevelEntry struct {
	Name  string
	Level uint32
}

// WorkerQueue is the mutable aggregate exclusively owned by the
// coordinator (spec.md §4.2). It is not safe for concurrent use by
// itself; callers (the coordinator and its workers) hold an external
// mutex around every method call, per the fixed queue→index lock order
// in spec.md §5.
type WorkerQueue struct {
	QueID QueID

	TodoPages       []uint32 // pop priority is the end of the slice (LIFO)
	InvalidPages    []uint32
	TodoAccounts    []string // LIFO
	InvalidAccounts []string

	InFlightPages    []uint32
	InFlightAccounts map[string]struct{}

	Order Order

	LvlSkippedAccounts map[uint32][]string
	MinLevel, MaxLevel uint32

	// SelfInit is true iff no initial page list was provided and the
	// first successful page fetch must seed TodoPages from the reported
	// total.
	SelfInit bool
}

// NewWorkerQueue builds an empty queue ready for InitTodo-driven seeding.
func NewWorkerQueue(order Order, minLevel, maxLevel uint32) *WorkerQueue {
	return &WorkerQueue{
		QueID:              NewQueID(),
		InFlightAccounts:   make(map[string]struct{}),
		LvlSkippedAccounts: make(map[uint32][]string),
		Order:              order,
		MinLevel:           minLevel,
		MaxLevel:           maxLevel,
		SelfInit:           true,
	}
}

// isDigitsOnly reports whether name collides with the server's
// view-by-id syntax: digit-only names are rejected (spec.md §9).
func isDigitsOnly(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

func removeUint32(us []uint32, target uint32) []uint32 {
	out := us[:0]
	for _, u := range us {
		if u != target {
			out = append(out, u)
		}
	}
	return out
}

// NextAction implements spec.md §4.2's next_action(): it prefers an
// account over a page, rejecting digit-only account names into
// InvalidAccounts as it goes.
func (q *WorkerQueue) NextAction() CrawlAction {
	for len(q.TodoAccounts) > 0 {
		last := len(q.TodoAccounts) - 1
		name := q.TodoAccounts[last]
		q.TodoAccounts = q.TodoAccounts[:last]

		if isDigitsOnly(name) {
			q.InvalidAccounts = append(q.InvalidAccounts, name)
			continue
		}
		q.InFlightAccounts[name] = struct{}{}
		return CrawlAction{Kind: ActionCharacter, Name: name, QueID: q.QueID}
	}

	if len(q.TodoPages) > 0 {
		last := len(q.TodoPages) - 1
		idx := q.TodoPages[last]
		q.TodoPages = q.TodoPages[:last]
		q.InFlightPages = append(q.InFlightPages, idx)
		return CrawlAction{Kind: ActionPage, Page: idx, QueID: q.QueID}
	}

	if q.SelfInit {
		q.SelfInit = false
		return CrawlAction{Kind: ActionInitTodo, QueID: q.QueID}
	}

	return CrawlAction{Kind: ActionWait, QueID: q.QueID}
}

// FinishPage removes idx from InFlightPages once its fetch has been
// merged.
func (q *WorkerQueue) FinishPage(idx uint32) {
	q.InFlightPages = removeUint32(q.InFlightPages, idx)
}

// IngestPageResults files each {name, level} entry reported by a page
// fetch into TodoAccounts or LvlSkippedAccounts depending on the
// configured level window.
func (q *WorkerQueue) IngestPageResults(entries []PlayerLevelEntry) {
	for _, e := range entries {
		if e.Level < q.MinLevel || e.Level > q.MaxLevel {
			q.LvlSkippedAccounts[e.Level] = append(q.LvlSkippedAccounts[e.Level], e.Name)
			continue
		}
		q.TodoAccounts = append(q.TodoAccounts, e.Name)
	}
}

// FinishAccount removes name from InFlightAccounts once its fetch has
// been merged.
func (q *WorkerQueue) FinishAccount(name string) {
	delete(q.InFlightAccounts, name)
}

// MarkAccountInvalid moves name into InvalidAccounts, provided queID
// still matches the queue's current generation (stale results are a
// no-op, spec.md §4.2).
func (q *WorkerQueue) MarkAccountInvalid(name string, queID QueID) {
	if queID != q.QueID {
		return
	}
	q.InvalidAccounts = removeString(q.InvalidAccounts, name)
	delete(q.InFlightAccounts, name)
	q.InvalidAccounts = append(q.InvalidAccounts, name)
}

// ResetWithTotalPages re-seeds TodoPages to [0, n) under a freshly minted
// QueID, applies the ordering policy, and clears SelfInit. Any in-flight
// action issued under the old QueID will have its result silently
// dropped by the coordinator (spec.md §3 invariant 5, §5 cancellation).
func (q *WorkerQueue) ResetWithTotalPages(n uint32) {
	pages := make([]uint32, n)
	for i := range pages {
		pages[i] = uint32(i)
	}
	ApplyOrder(q.Order, pages)
	q.QueID = NewQueID()
	q.TodoPages = pages
	q.SelfInit = false
}

// Reset mints a new QueID and clears all queue state, discarding
// whatever was in flight. Used for a user-initiated crawl restart
// (spec.md §3 Lifecycle).
func (q *WorkerQueue) Reset() {
	q.QueID = NewQueID()
	q.TodoPages = nil
	q.InvalidPages = nil
	q.TodoAccounts = nil
	q.InvalidAccounts = nil
	q.InFlightPages = nil
	q.InFlightAccounts = make(map[string]struct{})
	q.LvlSkippedAccounts = make(map[uint32][]string)
	q.SelfInit = true
}

// RemainingCount is the estimated number of leaderboard entries left to
// process (spec.md §4.2).
func (q *WorkerQueue) RemainingCount() int {
	return len(q.TodoPages)*PerPage + len(q.TodoAccounts) +
		len(q.InFlightPages)*PerPage + len(q.InFlightAccounts)
}

// BackupSnapshot is the serializable shape of a queue + index checkpoint
// (spec.md §4.2's snapshot_for_backup() and §4.4's wire schema).
type BackupSnapshot struct {
	TodoPages          []uint32            `json:"todo_pages"`
	InvalidPages       []uint32            `json:"invalid_pages"`
	TodoAccounts       []string            `json:"todo_accounts"`
	InvalidAccounts    []string            `json:"invalid_accounts"`
	Order              Order               `json:"order"`
	ExportTime         *time.Time          `json:"export_time"`
	Characters         []CharacterInfo     `json:"characters"`
	LvlSkippedAccounts map[uint32][]string `json:"lvl_skipped_accounts"`
	MinLevel           uint32              `json:"min_level"`
	MaxLevel           uint32              `json:"max_level"`
}

// SnapshotForBackup builds a consistent checkpoint of the queue and the
// supplied characters. In-flight items are folded back into the todo
// side so a restored backup re-crawls them (spec.md §4.2): this is why
// restoring a snapshot can only ever grow, never shrink, the set of work
// still to do (testable property 5).
func (q *WorkerQueue) SnapshotForBackup(characters []CharacterInfo) BackupSnapshot {
	now := time.Now().UTC()

	todoPages := make([]uint32, len(q.TodoPages), len(q.TodoPages)+len(q.InFlightPages))
	copy(todoPages, q.TodoPages)
	todoPages = append(todoPages, q.InFlightPages...)

	todoAccounts := make([]string, len(q.TodoAccounts), len(q.TodoAccounts)+len(q.InFlightAccounts))
	copy(todoAccounts, q.TodoAccounts)
	for name := range q.InFlightAccounts {
		todoAccounts = append(todoAccounts, name)
	}

	lvlSkipped := make(map[uint32][]string, len(q.LvlSkippedAccounts))
	for lvl, names := range q.LvlSkippedAccounts {
		cp := make([]string, len(names))
		copy(cp, names)
		lvlSkipped[lvl] = cp
	}

	return BackupSnapshot{
		TodoPages:          todoPages,
		InvalidPages:       append([]uint32(nil), q.InvalidPages...),
		TodoAccounts:       todoAccounts,
		InvalidAccounts:    append([]string(nil), q.InvalidAccounts...),
		Order:              q.Order,
		ExportTime:         &now,
		Characters:         characters,
		LvlSkippedAccounts: lvlSkipped,
		MinLevel:           q.MinLevel,
		MaxLevel:           q.MaxLevel,
	}
}
