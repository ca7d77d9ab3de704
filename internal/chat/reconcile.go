package chat

import (
	"sort"
	"time"
)

type StaticEntryKind int

const (
	EntryMessage StaticEntryKind = iota
	EntryPlan
	EntryStatus
)

// StaticEntry is one item of the render-once terminal log. Once appended it
// is never removed or reordered.
type StaticEntry struct {
	ID       string
	Kind     StaticEntryKind
	Message  *Message
	PlanYAML string
	Approved bool
	Status   string
	At       time.Time
}

// Reconciler promotes settled messages into the static log. Promotion is
// idempotent: an id that made it into the log is never appended again.
type Reconciler struct {
	promoted map[string]bool
	entries  []StaticEntry
}

func NewReconciler() *Reconciler {
	return &Reconciler{promoted: make(map[string]bool)}
}

// Promote scans the message set and appends every newly promotable message
// to the static log. A message is promotable once its status is terminal and
// no live stream buffer still holds trailing content for it. Messages that
// settle in the same batch are ordered by dispatch position, then creation
// time, then creation sequence, so the log order does not depend on token
// arrival interleaving.
func (r *Reconciler) Promote(messages []*Message, buffered func(messageID string) bool) []StaticEntry {
	var batch []*Message
	for _, msg := range messages {
		if r.promoted[msg.ID] || !msg.Status.Terminal() {
			continue
		}
		if buffered != nil && buffered(msg.ID) {
			continue
		}
		batch = append(batch, msg)
	}
	if len(batch) == 0 {
		return nil
	}

	sort.SliceStable(batch, func(i, j int) bool {
		a, b := batch[i], batch[j]
		if a.DispatchSeq != b.DispatchSeq {
			return a.DispatchSeq < b.DispatchSeq
		}
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return a.Seq < b.Seq
	})

	var appended []StaticEntry
	for _, msg := range batch {
		r.promoted[msg.ID] = true
		entry := StaticEntry{ID: msg.ID, Kind: EntryMessage, Message: msg, At: msg.Created}
		r.entries = append(r.entries, entry)
		appended = append(appended, entry)
	}
	return appended
}

// AppendPlan records a reviewed plan in the log with its verdict.
func (r *Reconciler) AppendPlan(planYAML string, approved bool) {
	r.entries = append(r.entries, StaticEntry{
		Kind:     EntryPlan,
		PlanYAML: planYAML,
		Approved: approved,
		At:       time.Now(),
	})
}

// AppendStatus records a one-off status line.
func (r *Reconciler) AppendStatus(status string) {
	r.entries = append(r.entries, StaticEntry{Kind: EntryStatus, Status: status, At: time.Now()})
}

// Entries returns the full static log in append order.
func (r *Reconciler) Entries() []StaticEntry {
	return r.entries
}

// Promoted reports whether a message id already made it into the log.
func (r *Reconciler) Promoted(messageID string) bool {
	return r.promoted[messageID]
}
