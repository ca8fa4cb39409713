package clubperm

import (
	"context"
	"sync"
	"time"
)

// DecisionKind distinguishes which query produced an audit entry.
type DecisionKind string

const (
	DecisionCalculate DecisionKind = "calculate"
	DecisionField     DecisionKind = "field"
	DecisionModule    DecisionKind = "module"
	DecisionRegion    DecisionKind = "region"
)

// AuditEntry records one access decision for the external audit sink.
type AuditEntry struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"trace_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      DecisionKind   `json:"kind"`
	RoleNames []string       `json:"role_names"`
	Object    string         `json:"object"` // field name, module id or resource/action
	Allowed   bool           `json:"allowed"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// GetTraceID returns the entry's correlation id, falling back to metadata.
func (e *AuditEntry) GetTraceID() string {
	if e.TraceID != "" {
		return e.TraceID
	}
	if e.Metadata != nil {
		if v, ok := e.Metadata["trace_id"].(string); ok {
			return v
		}
	}
	return ""
}

// AuditStore persists decision events.
type AuditStore interface {
	LogDecision(ctx context.Context, entry *AuditEntry) error
	GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	Kind      DecisionKind
	Object    string
	TraceID   string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// MemoryAuditStore keeps entries in memory, mainly for tests and demos.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{entries: make([]*AuditEntry, 0)}
}

func (s *MemoryAuditStore) LogDecision(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryAuditStore) GetAccessLog(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*AuditEntry, 0)
	for _, entry := range s.entries {
		if filter.Kind != "" && entry.Kind != filter.Kind {
			continue
		}
		if filter.Object != "" && entry.Object != filter.Object {
			continue
		}
		if filter.TraceID != "" && entry.GetTraceID() != filter.TraceID {
			continue
		}
		if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
			continue
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}
