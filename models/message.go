package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Category is one of the five fixed message kinds.
type Category string

const (
	CategoryCompliance    Category = "compliance"
	CategoryStatus        Category = "status"
	CategoryThroughput    Category = "throughput"
	CategoryAlert         Category = "alert"
	CategoryInformational Category = "informational"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryCompliance,
	CategoryStatus,
	CategoryThroughput,
	CategoryAlert,
	CategoryInformational,
}

// ParseCategory returns the category named by s.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Hint is an advisory presentation method. It has no effect on storage.
type Hint string

const (
	HintChart  Hint = "chart"
	HintTable  Hint = "table"
	HintGauge  Hint = "gauge"
	HintText   Hint = "text"
	HintGraph  Hint = "graph"
	HintMetric Hint = "metric"
	HintList   Hint = "list"
	HintBadge  Hint = "badge"
)

func (h Hint) Valid() bool {
	switch h {
	case HintChart, HintTable, HintGauge, HintText, HintGraph, HintMetric, HintList, HintBadge:
		return true
	}
	return false
}

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// DefaultPriority is applied to informational messages without one.
const DefaultPriority = "normal"

type ComplianceFields struct {
	Domain string
	Status string
	TestID string
}

type StatusFields struct {
	Component    string
	HealthStatus string
}

type ThroughputFields struct {
	MetricName  string
	Unit        string
	TargetValue *float64
}

type AlertFields struct {
	Severity       Severity
	Category       string
	ActionRequired bool
	ExpiresAt      *time.Time
}

type InformationalFields struct {
	Category string
	Priority string
}

// Message is a typed dashboard message from an agent. Exactly one of the
// category field groups is set, matching Category. Plain copies share
// Metadata, mapping/list payloads and field groups; use Clone for an
// independent copy.
type Message struct {
	ID           string
	Category     Category
	Title        string
	Value        Value
	Presentation Hint
	Timestamp    time.Time
	SourceAgent  string
	Metadata     map[string]any

	Compliance    *ComplianceFields
	Status        *StatusFields
	Throughput    *ThroughputFields
	Alert         *AlertFields
	Informational *InformationalFields
}

// Clone returns a deep copy: metadata, value payload and field groups are
// all owned by the result.
func (m Message) Clone() Message {
	out := m
	out.Value = m.Value.Clone()
	if m.Metadata != nil {
		out.Metadata = cloneAny(m.Metadata).(map[string]any)
	}
	if m.Compliance != nil {
		c := *m.Compliance
		out.Compliance = &c
	}
	if m.Status != nil {
		s := *m.Status
		out.Status = &s
	}
	if m.Throughput != nil {
		t := *m.Throughput
		if t.TargetValue != nil {
			v := *t.TargetValue
			t.TargetValue = &v
		}
		out.Throughput = &t
	}
	if m.Alert != nil {
		a := *m.Alert
		if a.ExpiresAt != nil {
			exp := *a.ExpiresAt
			a.ExpiresAt = &exp
		}
		out.Alert = &a
	}
	if m.Informational != nil {
		i := *m.Informational
		out.Informational = &i
	}
	return out
}

// Active reports whether an alert message has not yet expired at now.
// Non-alert messages are never active.
func (m Message) Active(now time.Time) bool {
	if m.Alert == nil {
		return false
	}
	return m.Alert.ExpiresAt == nil || m.Alert.ExpiresAt.After(now)
}

// wireMessage is the flat JSON form shared by ingestion bodies, query
// results and broadcast events.
type wireMessage struct {
	ID           string         `json:"message_id,omitempty"`
	Type         Category       `json:"type,omitempty"`
	Title        string         `json:"title"`
	Value        Value          `json:"value"`
	Presentation Hint           `json:"presentation_method"`
	Timestamp    *time.Time     `json:"timestamp,omitempty"`
	SourceAgent  string         `json:"source_agent,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	Domain         *string    `json:"domain,omitempty"`
	Status         *string    `json:"status,omitempty"`
	TestID         *string    `json:"test_id,omitempty"`
	Component      *string    `json:"component,omitempty"`
	HealthStatus   *string    `json:"health_status,omitempty"`
	MetricName     *string    `json:"metric_name,omitempty"`
	Unit           *string    `json:"unit,omitempty"`
	TargetValue    *float64   `json:"target_value,omitempty"`
	Severity       *Severity  `json:"severity,omitempty"`
	Category       *string    `json:"category,omitempty"`
	ActionRequired *bool      `json:"action_required,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Priority       *string    `json:"priority,omitempty"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{
		ID:           m.ID,
		Type:         m.Category,
		Title:        m.Title,
		Value:        m.Value,
		Presentation: m.Presentation,
		SourceAgent:  m.SourceAgent,
		Metadata:     m.Metadata,
	}
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp
		w.Timestamp = &ts
	}
	switch {
	case m.Compliance != nil:
		w.Domain = strPtr(m.Compliance.Domain)
		w.Status = strPtr(m.Compliance.Status)
		w.TestID = strPtr(m.Compliance.TestID)
	case m.Status != nil:
		w.Component = strPtr(m.Status.Component)
		w.HealthStatus = strPtr(m.Status.HealthStatus)
	case m.Throughput != nil:
		w.MetricName = strPtr(m.Throughput.MetricName)
		w.Unit = strPtr(m.Throughput.Unit)
		w.TargetValue = m.Throughput.TargetValue
	case m.Alert != nil:
		sev := m.Alert.Severity
		action := m.Alert.ActionRequired
		w.Severity = &sev
		w.Category = strPtr(m.Alert.Category)
		w.ActionRequired = &action
		w.ExpiresAt = m.Alert.ExpiresAt
	case m.Informational != nil:
		w.Category = strPtr(m.Informational.Category)
		w.Priority = strPtr(m.Informational.Priority)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the flat wire form. The category is taken from the
// "type" key; use Decode when the category is fixed by the caller.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = w.message(w.Type)
	return nil
}

func (w wireMessage) message(category Category) Message {
	m := Message{
		ID:           w.ID,
		Category:     category,
		Title:        w.Title,
		Value:        w.Value,
		Presentation: w.Presentation,
		SourceAgent:  w.SourceAgent,
		Metadata:     w.Metadata,
	}
	if w.Timestamp != nil {
		m.Timestamp = *w.Timestamp
	}
	switch category {
	case CategoryCompliance:
		m.Compliance = &ComplianceFields{Domain: deref(w.Domain), Status: deref(w.Status), TestID: deref(w.TestID)}
	case CategoryStatus:
		m.Status = &StatusFields{Component: deref(w.Component), HealthStatus: deref(w.HealthStatus)}
	case CategoryThroughput:
		m.Throughput = &ThroughputFields{MetricName: deref(w.MetricName), Unit: deref(w.Unit), TargetValue: w.TargetValue}
	case CategoryAlert:
		a := &AlertFields{Category: deref(w.Category), ExpiresAt: w.ExpiresAt}
		if w.Severity != nil {
			a.Severity = *w.Severity
		}
		if w.ActionRequired != nil {
			a.ActionRequired = *w.ActionRequired
		}
		m.Alert = a
	case CategoryInformational:
		m.Informational = &InformationalFields{Category: deref(w.Category), Priority: deref(w.Priority)}
	}
	return m
}

// String is used in log lines.
func (m Message) String() string {
	return fmt.Sprintf("%s %q from %s", m.Category, m.Title, m.source())
}

func (m Message) source() string {
	if m.SourceAgent == "" {
		return "unknown"
	}
	return m.SourceAgent
}
