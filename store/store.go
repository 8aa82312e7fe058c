// Package store keeps accepted dashboard messages in memory.
//
// A Store holds one bounded history per category, a merged recent feed
// (most recent first) and a registry of alerts that have not expired.
// Every read is total: unknown categories and empty stores yield empty
// results rather than errors.
//
// Writes (Append and alert eviction) are serialized by a single lock;
// readers share it. Each Append becomes visible to readers atomically.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/karthikraju391/agent-dashboard/models"
)

const DefaultRecentCap = 100

// Options bounds the store. A zero CategoryCap keeps every message.
type Options struct {
	RecentCap   int
	CategoryCap int
}

type Store struct {
	mu          sync.RWMutex
	recentCap   int
	categoryCap int
	categories  map[models.Category]*history
	recent      *history
	// alerts holds unexpired alerts oldest first; eviction happens on
	// reads and PruneAlerts.
	alerts []models.Message
	newID  func() string
}

func New(opts Options) *Store {
	if opts.RecentCap <= 0 {
		opts.RecentCap = DefaultRecentCap
	}
	if opts.CategoryCap < 0 {
		opts.CategoryCap = 0
	}
	s := &Store{
		recentCap:   opts.RecentCap,
		categoryCap: opts.CategoryCap,
		categories:  make(map[models.Category]*history, len(models.Categories)),
		recent:      newHistory(opts.RecentCap),
		newID:       uuid.NewString,
	}
	for _, c := range models.Categories {
		s.categories[c] = newHistory(opts.CategoryCap)
	}
	return s
}

// Read methods return deep copies; callers may modify results freely.

// Append stores a validated message under a fresh id and returns it.
// The stored copy is independent of m.
func (s *Store) Append(m models.Message) string {
	stored := m.Clone()
	stored.ID = s.newID()

	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.categories[stored.Category]
	if !ok {
		h = newHistory(s.categoryCap)
		s.categories[stored.Category] = h
	}
	h.push(stored)
	s.recent.push(stored)

	if stored.Category == models.CategoryAlert {
		s.alerts = append(s.alerts, stored)
		if s.categoryCap > 0 && len(s.alerts) > s.categoryCap {
			s.alerts = append(s.alerts[:0:0], s.alerts[len(s.alerts)-s.categoryCap:]...)
		}
	}
	return stored.ID
}

// Recent returns up to limit messages across all categories, most recent
// first. limit is clamped to [0, RecentCap].
func (s *Store) Recent(limit int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent.newest(clamp(limit, s.recentCap))
}

// ByCategory returns up to limit messages of category c, most recent
// first. Unknown categories return an empty slice.
func (s *Store) ByCategory(c models.Category, limit int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.categories[c]
	if !ok || limit <= 0 {
		return []models.Message{}
	}
	return h.newest(limit)
}

// ActiveAlerts returns alerts without expiry or expiring after now, most
// recent first, and evicts the rest from the registry.
func (s *Store) ActiveAlerts(now time.Time) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)
	out := make([]models.Message, len(s.alerts))
	for i, a := range s.alerts {
		out[len(s.alerts)-1-i] = a.Clone()
	}
	return out
}

// PruneAlerts evicts alerts expired at now and returns how many were
// removed.
func (s *Store) PruneAlerts(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(now)
}

func (s *Store) pruneLocked(now time.Time) int {
	kept := s.alerts[:0]
	for _, a := range s.alerts {
		if a.Active(now) {
			kept = append(kept, a)
		}
	}
	removed := len(s.alerts) - len(kept)
	for i := len(kept); i < len(s.alerts); i++ {
		s.alerts[i] = models.Message{}
	}
	s.alerts = kept
	return removed
}

// Counts is an aggregate snapshot used for status updates.
type Counts struct {
	Categories   map[models.Category]int `json:"message_counts"`
	Recent       int                      `json:"recent_messages"`
	ActiveAlerts int                      `json:"active_alerts"`
}

// Counts reports sizes without evicting anything; alerts expired at now
// are not counted.
func (s *Store) Counts(now time.Time) Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := Counts{
		Categories: make(map[models.Category]int, len(s.categories)),
		Recent:     s.recent.len(),
	}
	for cat, h := range s.categories {
		c.Categories[cat] = h.len()
	}
	for _, a := range s.alerts {
		if a.Active(now) {
			c.ActiveAlerts++
		}
	}
	return c
}

// Len is the number of messages currently held across categories.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, h := range s.categories {
		n += h.len()
	}
	return n
}

// DomainStats aggregates compliance results for one domain.
type DomainStats struct {
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Total    int     `json:"total"`
	PassRate float64 `json:"pass_rate"`
}

// UnknownDomain groups compliance messages without a domain.
const UnknownDomain = "unknown"

// ComplianceSummary groups stored compliance messages by domain.
// "passed" and "compliant" count as passes, "failed" and "non_compliant"
// as failures; other statuses only count toward the total.
func (s *Store) ComplianceSummary() map[string]DomainStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]DomainStats)
	h, ok := s.categories[models.CategoryCompliance]
	if !ok {
		return out
	}
	h.each(func(m models.Message) {
		domain, status := UnknownDomain, ""
		if m.Compliance != nil {
			if m.Compliance.Domain != "" {
				domain = m.Compliance.Domain
			}
			status = m.Compliance.Status
		}
		st := out[domain]
		switch status {
		case "passed", "compliant":
			st.Passed++
		case "failed", "non_compliant":
			st.Failed++
		}
		st.Total++
		out[domain] = st
	})
	for domain, st := range out {
		st.PassRate = float64(st.Passed) / float64(st.Total)
		out[domain] = st
	}
	return out
}

// AgentActivity is what the store knows about one source agent.
type AgentActivity struct {
	Name         string    `json:"name"`
	MessageCount int       `json:"message_count"`
	LastSeen     time.Time `json:"last_seen"`
}

// UnknownAgent groups messages without a source agent.
const UnknownAgent = "unknown"

// AgentActivity summarizes stored messages per source agent, most
// recently seen first.
func (s *Store) AgentActivity() []AgentActivity {
	s.mu.RLock()
	byName := make(map[string]*AgentActivity)
	for _, h := range s.categories {
		h.each(func(m models.Message) {
			name := m.SourceAgent
			if name == "" {
				name = UnknownAgent
			}
			a, ok := byName[name]
			if !ok {
				a = &AgentActivity{Name: name}
				byName[name] = a
			}
			a.MessageCount++
			if m.Timestamp.After(a.LastSeen) {
				a.LastSeen = m.Timestamp
			}
		})
	}
	s.mu.RUnlock()

	out := make([]AgentActivity, 0, len(byName))
	for _, a := range byName {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func clamp(limit, ceiling int) int {
	if limit < 0 {
		return 0
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}
