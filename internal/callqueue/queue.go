package callqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/dennisdiepolder/monti/contactcore/internal/types"
)

// Queue holds the waiting and active interactions of one named queue.
// Waiting items are kept ordered by effective priority. All methods expect
// the caller to hold mu.
type Queue struct {
	mu sync.Mutex

	Name       string
	Waiting    []*types.QueueItem          // ordered, head first
	Active     map[string]*types.QueueItem // interactionID -> assigned item
	Completed  int
	Abandoned  int
	Overflowed int
	Unrouted   int
	SL         *SLTracker
}

// NewQueue creates a queue from its catalog entry
func NewQueue(cfg types.QueueConfig) *Queue {
	return &Queue{
		Name:    cfg.Name,
		Waiting: make([]*types.QueueItem, 0),
		Active:  make(map[string]*types.QueueItem),
		SL:      NewSLTracker(cfg.SLTarget, cfg.SLSeconds),
	}
}

// less orders by effective priority desc, then enqueue time, then arrival sequence
func less(a, b *types.QueueItem) bool {
	if a.EffectivePriority != b.EffectivePriority {
		return a.EffectivePriority > b.EffectivePriority
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.Seq < b.Seq
}

// Insert places item in the waiting set at its ranked position
func (q *Queue) Insert(item *types.QueueItem) {
	item.Status = types.ItemWaiting
	item.QueueName = q.Name
	i := sort.Search(len(q.Waiting), func(i int) bool { return less(item, q.Waiting[i]) })
	q.Waiting = append(q.Waiting, nil)
	copy(q.Waiting[i+1:], q.Waiting[i:])
	q.Waiting[i] = item
}

// Find returns the waiting item with the given ID
func (q *Queue) Find(id string) *types.QueueItem {
	for _, item := range q.Waiting {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Remove takes a waiting item out of the queue
func (q *Queue) Remove(id string) *types.QueueItem {
	for i, item := range q.Waiting {
		if item.ID == id {
			q.Waiting = append(q.Waiting[:i], q.Waiting[i+1:]...)
			return item
		}
	}
	return nil
}

// Resort restores ordering after effective priorities changed
func (q *Queue) Resort() {
	sort.SliceStable(q.Waiting, func(i, j int) bool { return less(q.Waiting[i], q.Waiting[j]) })
}

// Assign moves a waiting item to active for agentID and records service level
func (q *Queue) Assign(id, agentID string, now time.Time) *types.QueueItem {
	item := q.Remove(id)
	if item == nil {
		return nil
	}
	item.Status = types.ItemAssigned
	item.AssignedAgent = agentID
	item.AssignedAt = &now
	q.Active[id] = item
	q.SL.RecordAnswer(item.WaitTime(now).Seconds())
	return item
}

// Unassign puts an active item back in the waiting set, keeping its place
func (q *Queue) Unassign(id string) *types.QueueItem {
	item, ok := q.Active[id]
	if !ok {
		return nil
	}
	delete(q.Active, id)
	q.SL.UndoAnswer(item.WaitTime(*item.AssignedAt).Seconds())
	item.AssignedAgent = ""
	item.AssignedAt = nil
	q.Insert(item)
	return item
}

// Complete marks an active item completed and removes it
func (q *Queue) Complete(id string, talkTime float64, now time.Time) *types.QueueItem {
	item, ok := q.Active[id]
	if !ok {
		return nil
	}
	item.Status = types.ItemCompleted
	item.CompletedAt = &now
	item.TalkTime = talkTime
	delete(q.Active, id)
	q.Completed++
	return item
}

// Abandon removes a waiting item that the customer left
func (q *Queue) Abandon(id string, now time.Time) *types.QueueItem {
	item := q.Remove(id)
	if item == nil {
		return nil
	}
	item.Status = types.ItemAbandoned
	item.CompletedAt = &now
	q.Abandoned++
	return item
}

// Overflow removes a waiting item that left through an overflow action
func (q *Queue) Overflow(id string, now time.Time) *types.QueueItem {
	item := q.Remove(id)
	if item == nil {
		return nil
	}
	item.Status = types.ItemOverflowed
	item.CompletedAt = &now
	q.Overflowed++
	return item
}

// LongestWaitSecs returns the longest current wait in the queue
func (q *Queue) LongestWaitSecs(now time.Time) float64 {
	longest := 0.0
	for _, item := range q.Waiting {
		if w := item.WaitTime(now).Seconds(); w > longest {
			longest = w
		}
	}
	return longest
}

// Wipe clears all waiting and active items, returning the active ones
func (q *Queue) Wipe() (waiting, active []*types.QueueItem) {
	waiting = q.Waiting
	for _, item := range q.Active {
		active = append(active, item)
	}
	q.Waiting = make([]*types.QueueItem, 0)
	q.Active = make(map[string]*types.QueueItem)
	return waiting, active
}

// Snapshot returns a QueueSnapshot of the current queue state
func (q *Queue) Snapshot(now time.Time, availableAgents int) types.QueueSnapshot {
	return types.QueueSnapshot{
		Queue:           q.Name,
		WaitingCount:    len(q.Waiting),
		ActiveCount:     len(q.Active),
		CompletedCount:  q.Completed,
		AbandonedCount:  q.Abandoned,
		OverflowCount:   q.Overflowed,
		UnroutedCount:   q.Unrouted,
		LongestWaitSecs: q.LongestWaitSecs(now),
		AvailableAgents: availableAgents,
		ServiceLevel:    q.SL.Snapshot(),
	}
}

func cloneItem(item *types.QueueItem) types.QueueItem {
	c := *item
	if item.AssignedAt != nil {
		t := *item.AssignedAt
		c.AssignedAt = &t
	}
	if item.CompletedAt != nil {
		t := *item.CompletedAt
		c.CompletedAt = &t
	}
	c.MatchedBoosts = append([]string(nil), item.MatchedBoosts...)
	return c
}
