package stores

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/oarkflow/squealx"

	"github.com/hdcn/clubperm"
)

// SQLAuditStore persists decision audit entries in SQL.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) (*SQLAuditStore, error) {
	return &SQLAuditStore{db: db}, nil
}

func (s *SQLAuditStore) LogDecision(ctx context.Context, entry *clubperm.AuditEntry) error {
	metaB, _ := json.Marshal(entry.Metadata)
	q := `INSERT INTO audit_log(id, trace_id, timestamp, kind, role_names, object, allowed, reason, metadata_json)
VALUES(:id, :trace_id, :timestamp, :kind, :role_names, :object, :allowed, :reason, :metadata_json)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":            entry.ID,
		"trace_id":      entry.TraceID,
		"timestamp":     entry.Timestamp,
		"kind":          string(entry.Kind),
		"role_names":    strings.Join(entry.RoleNames, ","),
		"object":        entry.Object,
		"allowed":       boolToInt(entry.Allowed),
		"reason":        entry.Reason,
		"metadata_json": string(metaB),
	})
	return err
}

func (s *SQLAuditStore) GetAccessLog(ctx context.Context, filter clubperm.AuditFilter) ([]*clubperm.AuditEntry, error) {
	q := `SELECT id, trace_id, timestamp, kind, role_names, object, allowed, reason, metadata_json FROM audit_log WHERE 1=1`
	params := map[string]any{}
	if filter.Kind != "" {
		q += " AND kind = :kind"
		params["kind"] = string(filter.Kind)
	}
	if filter.Object != "" {
		q += " AND object = :object"
		params["object"] = filter.Object
	}
	if filter.TraceID != "" {
		q += " AND trace_id = :trace_id"
		params["trace_id"] = filter.TraceID
	}
	if !filter.StartTime.IsZero() {
		q += " AND timestamp >= :start"
		params["start"] = filter.StartTime
	}
	if !filter.EndTime.IsZero() {
		q += " AND timestamp <= :end"
		params["end"] = filter.EndTime
	}
	if filter.Limit > 0 {
		q += " LIMIT :limit"
		params["limit"] = filter.Limit
	} else {
		q += " LIMIT 100"
	}
	r, err := s.db.NamedQueryContext(ctx, q, params)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*clubperm.AuditEntry, 0)
	for r.Next() {
		var id, traceID, kind, roleNames, object, reason, metaJSON string
		var timestampRaw interface{}
		var allowedInt int
		if err := r.Scan(&id, &traceID, &timestampRaw, &kind, &roleNames, &object, &allowedInt, &reason, &metaJSON); err != nil {
			return nil, err
		}
		entry := &clubperm.AuditEntry{
			ID:      id,
			TraceID: traceID,
			Kind:    clubperm.DecisionKind(kind),
			Object:  object,
			Allowed: allowedInt != 0,
			Reason:  reason,
		}
		entry.Timestamp = scanTime(timestampRaw)
		if roleNames != "" {
			entry.RoleNames = strings.Split(roleNames, ",")
		}
		_ = json.Unmarshal([]byte(metaJSON), &entry.Metadata)
		out = append(out, entry)
	}
	return out, nil
}
