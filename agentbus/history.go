package agentbus

import (
	"sync"

	"github.com/jeeves-cluster-organization/cbp-bus/message"
)

// historyLog is the bounded diagnostics history of §6: a ring buffer
// capped at `limit` entries, oldest evicted first.
type historyLog struct {
	mu    sync.Mutex
	limit int
	buf   []message.Message
	next  int
	full  bool
}

func newHistoryLog(limit int) *historyLog {
	return &historyLog{limit: limit, buf: make([]message.Message, limit)}
}

func (h *historyLog) append(m message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = m
	h.next = (h.next + 1) % h.limit
	if h.next == 0 {
		h.full = true
	}
}

// query returns up to limit entries (most recent last) matching filter.
// limit<=0 returns every matching entry currently retained.
func (h *historyLog) query(filter HistoryFilter, limit int) []message.Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	var ordered []message.Message
	if h.full {
		ordered = append(ordered, h.buf[h.next:]...)
		ordered = append(ordered, h.buf[:h.next]...)
	} else {
		ordered = append(ordered, h.buf[:h.next]...)
	}

	matched := make([]message.Message, 0, len(ordered))
	for _, m := range ordered {
		if matches(m, filter) {
			matched = append(matched, m)
		}
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

func matches(m message.Message, f HistoryFilter) bool {
	if f.Sender != nil && m.Sender != *f.Sender {
		return false
	}
	if f.Receiver != nil && m.Receiver != *f.Receiver {
		return false
	}
	if f.Kind != nil && m.Kind != *f.Kind {
		return false
	}
	return true
}
