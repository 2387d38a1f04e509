package stream

import (
	"sort"
	"sync"
)

type replayEntry struct {
	Seq  int64
	Data []byte // envelope JSON
}

// replayLog keeps the newest envelopes of one channel in channel_seq order
// so clients that notice a gap can fetch what they missed.
type replayLog struct {
	mu      sync.RWMutex
	limit   int
	entries []replayEntry
}

func newReplayLog(limit int) *replayLog {
	if limit <= 0 {
		limit = 200
	}
	return &replayLog{limit: limit, entries: make([]replayEntry, 0, limit)}
}

// append stores a copy of frame. seq must increase between calls.
func (l *replayLog) append(seq int64, frame []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == l.limit {
		n := copy(l.entries, l.entries[1:])
		l.entries = l.entries[:n]
	}
	l.entries = append(l.entries, replayEntry{Seq: seq, Data: append([]byte(nil), frame...)})
}

// between returns entries with from <= seq <= to.
func (l *replayLog) between(from, to int64) []replayEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	lo := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Seq >= from })
	hi := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Seq > to })
	if lo >= hi {
		return nil
	}
	return append([]replayEntry(nil), l.entries[lo:hi]...)
}

func (l *replayLog) size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
