package conflict

import (
	"sync"

	"casecal/internal/model"
)

type ack struct {
	date       model.Date
	start, end model.Clock
}

// Ledger remembers which conflicts the user acknowledged in this session.
// Detection is unaffected; Active hides acknowledged records. An
// acknowledgement lapses when the pair's overlap window changes, since that
// means the underlying events changed.
type Ledger struct {
	mu   sync.RWMutex
	acks map[PairKey]ack
}

func NewLedger() *Ledger {
	return &Ledger{acks: make(map[PairKey]ack)}
}

// Acknowledge hides r until its events change.
func (l *Ledger) Acknowledge(r Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acks[r.Key()] = ack{date: r.Date, start: r.Start, end: r.End}
}

// Reopen forgets an acknowledgement. It reports whether one existed.
func (l *Ledger) Reopen(k PairKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.acks[k]
	delete(l.acks, k)
	return ok
}

func (l *Ledger) IsAcknowledged(r Record) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.acks[r.Key()]
	return ok && a == ack{date: r.Date, start: r.Start, end: r.End}
}

// Active splits records into unacknowledged and acknowledged, preserving
// order.
func (l *Ledger) Active(records []Record) (active, acknowledged []Record) {
	for _, r := range records {
		if l.IsAcknowledged(r) {
			acknowledged = append(acknowledged, r)
			continue
		}
		active = append(active, r)
	}
	return active, acknowledged
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.acks)
}
