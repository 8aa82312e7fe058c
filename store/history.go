package store

import "github.com/karthikraju391/agent-dashboard/models"

// history is an append-only sequence that keeps at most limit entries,
// overwriting the oldest once full. A zero limit never evicts.
type history struct {
	items []models.Message
	head  int
	limit int
}

func newHistory(limit int) *history {
	h := &history{limit: limit}
	if limit > 0 {
		h.items = make([]models.Message, 0, limit)
	}
	return h
}

// push appends m and reports whether an older entry was evicted.
func (h *history) push(m models.Message) bool {
	if h.limit == 0 || len(h.items) < h.limit {
		h.items = append(h.items, m)
		return false
	}
	h.items[h.head] = m
	h.head = (h.head + 1) % h.limit
	return true
}

func (h *history) len() int { return len(h.items) }

// at returns the i-th entry counting from the oldest.
func (h *history) at(i int) models.Message {
	return h.items[(h.head+i)%len(h.items)]
}

// newest returns clones of up to limit entries, most recent first.
func (h *history) newest(limit int) []models.Message {
	n := h.len()
	if limit < n {
		n = limit
	}
	if n <= 0 {
		return []models.Message{}
	}
	out := make([]models.Message, n)
	last := h.len() - 1
	for i := 0; i < n; i++ {
		out[i] = h.at(last - i).Clone()
	}
	return out
}

// each visits entries oldest first.
func (h *history) each(fn func(models.Message)) {
	for i := 0; i < h.len(); i++ {
		fn(h.at(i))
	}
}
