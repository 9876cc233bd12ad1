package hof

import (
	"context"
	"testing"
)

// TestQueueExclusivity pins testable property 1: after any sequence of
// next_action/finish calls, a page or account id never appears in more
// than one of its mutually exclusive sets.
func TestQueueExclusivity(t *testing.T) {
	q := NewWorkerQueue(OrderBottomUp, DefaultMinLevel, DefaultMaxLevel)
	q.ResetWithTotalPages(5)
	q.TodoAccounts = []string{"alice", "bob", "42"}

	seenPages := map[uint32]int{}
	seenAccounts := map[string]int{}

	for {
		action := q.NextAction()
		if action.Kind == ActionWait || action.Kind == ActionInitTodo {
			break
		}
		if action.Kind == ActionPage {
			seenPages[action.Page]++
			q.FinishPage(action.Page)
		}
		if action.Kind == ActionCharacter {
			seenAccounts[action.Name]++
			q.FinishAccount(action.Name)
		}
	}

	for page, n := range seenPages {
		if n != 1 {
			t.Fatalf("page %d dispatched %d times", page, n)
		}
	}
	for name, n := range seenAccounts {
		if n != 1 {
			t.Fatalf("account %q dispatched %d times", name, n)
		}
	}
	if len(q.InvalidAccounts) != 1 || q.InvalidAccounts[0] != "42" {
		t.Fatalf("expected digit-only account to land in InvalidAccounts, got %v", q.InvalidAccounts)
	}
}

// TestDigitOnlyNamesRejected pins testable property 2 and scenario S4.
func TestDigitOnlyNamesRejected(t *testing.T) {
	q := NewWorkerQueue(OrderRandom, DefaultMinLevel, DefaultMaxLevel)
	q.TodoAccounts = []string{"42", "alice"}

	action := q.NextAction()
	if action.Kind != ActionCharacter || action.Name != "alice" {
		t.Fatalf("expected first action to fetch alice, got %+v", action)
	}
	if len(q.InvalidAccounts) != 1 || q.InvalidAccounts[0] != "42" {
		t.Fatalf("expected 42 in InvalidAccounts, got %v", q.InvalidAccounts)
	}
}

// TestOrdering pins testable property 8.
func TestOrdering(t *testing.T) {
	pop := func(order Order) []uint32 {
		pages := []uint32{5, 2, 9, 1}
		ApplyOrder(order, pages)
		q := &WorkerQueue{TodoPages: pages}
		var out []uint32
		for len(q.TodoPages) > 0 {
			last := len(q.TodoPages) - 1
			out = append(out, q.TodoPages[last])
			q.TodoPages = q.TodoPages[:last]
		}
		return out
	}

	bottomUp := pop(OrderBottomUp)
	want := []uint32{9, 5, 2, 1}
	for i := range want {
		if bottomUp[i] != want[i] {
			t.Fatalf("BottomUp pop order = %v, want %v", bottomUp, want)
		}
	}

	topDown := pop(OrderTopDown)
	want = []uint32{1, 2, 5, 9}
	for i := range want {
		if topDown[i] != want[i] {
			t.Fatalf("TopDown pop order = %v, want %v", topDown, want)
		}
	}

	randomPop := pop(OrderRandom)
	seen := map[uint32]bool{}
	for _, v := range randomPop {
		seen[v] = true
	}
	for _, v := range []uint32{1, 2, 5, 9} {
		if !seen[v] {
			t.Fatalf("Random pop order %v is not a permutation of [1,2,5,9]", randomPop)
		}
	}
}

// TestPageIngestLevelFilter pins scenario S5.
func TestPageIngestLevelFilter(t *testing.T) {
	q := NewWorkerQueue(OrderRandom, 10, 20)
	q.IngestPageResults([]PlayerLevelEntry{
		{Name: "alice", Level: 15},
		{Name: "bob", Level: 5},
		{Name: "carol", Level: 25},
	})

	if len(q.TodoAccounts) != 1 || q.TodoAccounts[0] != "alice" {
		t.Fatalf("TodoAccounts = %v, want [alice]", q.TodoAccounts)
	}
	if got := q.LvlSkippedAccounts[5]; len(got) != 1 || got[0] != "bob" {
		t.Fatalf("LvlSkippedAccounts[5] = %v, want [bob]", got)
	}
	if got := q.LvlSkippedAccounts[25]; len(got) != 1 || got[0] != "carol" {
		t.Fatalf("LvlSkippedAccounts[25] = %v, want [carol]", got)
	}
}

// TestPlayerNotFound pins scenario S6: MarkAccountInvalid removes the
// name from in-flight and appends a single copy to invalid_accounts.
func TestPlayerNotFound(t *testing.T) {
	q := NewWorkerQueue(OrderRandom, DefaultMinLevel, DefaultMaxLevel)
	q.TodoAccounts = []string{"ghost"}

	action := q.NextAction()
	if action.Kind != ActionCharacter || action.Name != "ghost" {
		t.Fatalf("expected to fetch ghost, got %+v", action)
	}
	if _, inFlight := q.InFlightAccounts["ghost"]; !inFlight {
		t.Fatalf("expected ghost to be in flight")
	}

	q.MarkAccountInvalid("ghost", action.QueID)

	if _, inFlight := q.InFlightAccounts["ghost"]; inFlight {
		t.Fatalf("ghost should no longer be in flight")
	}
	count := 0
	for _, n := range q.InvalidAccounts {
		if n == "ghost" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one ghost in InvalidAccounts, got %d", count)
	}
}

// TestSnapshotCompleteness pins testable property 5: the snapshot's todo
// set is a superset of the pre-snapshot todo ∪ in-flight sets, so
// restoring can only grow remaining work, never shrink it.
func TestSnapshotCompleteness(t *testing.T) {
	q := NewWorkerQueue(OrderRandom, DefaultMinLevel, DefaultMaxLevel)
	q.ResetWithTotalPages(4)
	q.TodoAccounts = []string{"alice", "bob"}

	_ = q.NextAction() // pulls "bob" into in-flight
	_ = q.NextAction() // pulls "alice" into in-flight

	before := q.RemainingCount()
	snap := q.SnapshotForBackup(nil)

	restored, idx, err := RestoreBackup(context.Background(), &snap, 0)
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	_ = idx

	if restored.RemainingCount() < before {
		t.Fatalf("restored remaining count %d < original %d", restored.RemainingCount(), before)
	}

	todoSet := map[uint32]bool{}
	for _, p := range restored.TodoPages {
		todoSet[p] = true
	}
	for _, p := range q.TodoPages {
		if !todoSet[p] {
			t.Fatalf("restored todo pages missing original todo page %d", p)
		}
	}
}

// TestResetMintsNewQueID ensures Reset strictly advances QueID (property
// "que_id increases strictly over its lifetime", §3 invariant 5).
func TestResetMintsNewQueID(t *testing.T) {
	q := NewWorkerQueue(OrderRandom, DefaultMinLevel, DefaultMaxLevel)
	old := q.QueID
	q.Reset()
	if q.QueID <= old {
		t.Fatalf("Reset did not mint a strictly larger QueID: old %d, new %d", old, q.QueID)
	}
}
