package hof

import (
	"math/rand"
	"sort"
)

// ApplyOrder imposes the ordering policy on todoPages in place. Pop order
// from todo_pages is LIFO (see WorkerQueue.NextAction): Random shuffles,
// TopDown sorts descending (so the smallest page pops first), BottomUp
// sorts ascending (so the largest page pops first).
func ApplyOrder(order Order, todoPages []uint32) {
	switch order {
	case OrderTopDown:
		sort.Slice(todoPages, func(i, j int) bool { return todoPages[i] > todoPages[j] })
	case OrderBottomUp:
		sort.Slice(todoPages, func(i, j int) bool { return todoPages[i] < todoPages[j] })
	default: // OrderRandom, and any unrecognized value
		rand.Shuffle(len(todoPages), func(i, j int) {
			todoPages[i], todoPages[j] = todoPages[j], todoPages[i]
		})
	}
}
