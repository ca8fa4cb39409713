package stores

import (
	"context"

	"github.com/oarkflow/squealx"
)

// MembershipChangeFunc is called after a binding mutation with the
// subject's resulting role set, mirroring the redis store's change feed
// so cache invalidation works the same against either backend.
type MembershipChangeFunc func(subjectID string, roleNames []string)

// SQLRoleMembershipStore keeps subject-to-role bindings in the
// role_members table.
type SQLRoleMembershipStore struct {
	db       *squealx.DB
	onChange MembershipChangeFunc
}

func NewSQLRoleMembershipStore(db *squealx.DB) *SQLRoleMembershipStore {
	return &SQLRoleMembershipStore{db: db}
}

// OnChange installs the post-mutation notification hook.
func (s *SQLRoleMembershipStore) OnChange(fn MembershipChangeFunc) {
	s.onChange = fn
}

// AssignRole records a binding. Assigning an already held role is a
// no-op, not an error.
func (s *SQLRoleMembershipStore) AssignRole(ctx context.Context, subjectID, roleName string) error {
	q := `INSERT OR IGNORE INTO role_members(subject_id, role_name) VALUES(:subject_id, :role_name)`
	if err := s.exec(ctx, q, subjectID, roleName); err != nil {
		return err
	}
	return s.notify(ctx, subjectID)
}

// RevokeRole drops a binding. Revoking an absent role is a no-op.
func (s *SQLRoleMembershipStore) RevokeRole(ctx context.Context, subjectID, roleName string) error {
	q := `DELETE FROM role_members WHERE subject_id = :subject_id AND role_name = :role_name`
	if err := s.exec(ctx, q, subjectID, roleName); err != nil {
		return err
	}
	return s.notify(ctx, subjectID)
}

// ListRoles returns the subject's role names in stable order. An unknown
// subject yields an empty list.
func (s *SQLRoleMembershipStore) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	q := `SELECT role_name FROM role_members WHERE subject_id = :subject_id ORDER BY role_name`
	return s.queryNames(ctx, q, map[string]any{"subject_id": subjectID})
}

// ListSubjects returns every subject currently holding the role, for
// admin tooling and bulk invalidation.
func (s *SQLRoleMembershipStore) ListSubjects(ctx context.Context, roleName string) ([]string, error) {
	q := `SELECT subject_id FROM role_members WHERE role_name = :role_name ORDER BY subject_id`
	return s.queryNames(ctx, q, map[string]any{"role_name": roleName})
}

func (s *SQLRoleMembershipStore) exec(ctx context.Context, q, subjectID, roleName string) error {
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"subject_id": subjectID,
		"role_name":  roleName,
	})
	return err
}

func (s *SQLRoleMembershipStore) queryNames(ctx context.Context, q string, args map[string]any) ([]string, error) {
	out := make([]string, 0)
	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	for r.Next() {
		var name string
		if err := r.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *SQLRoleMembershipStore) notify(ctx context.Context, subjectID string) error {
	if s.onChange == nil {
		return nil
	}
	roles, err := s.ListRoles(ctx, subjectID)
	if err != nil {
		return err
	}
	s.onChange(subjectID, roles)
	return nil
}
