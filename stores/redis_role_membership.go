package stores

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// roleChangeChannel carries role-assignment change events so every engine
// instance can drop the affected cache entries.
const roleChangeChannel = "clubperm:rolechange"

// RedisRoleMembershipStore keeps subject->roles in Redis sets
// (key: rolemem:{subjectID}) and publishes a change event on every
// mutation.
type RedisRoleMembershipStore struct {
	client *redis.Client
	keyFmt string // format string, e.g. "rolemem:%s"
}

func NewRedisRoleMembershipStore(client *redis.Client) *RedisRoleMembershipStore {
	return &RedisRoleMembershipStore{client: client, keyFmt: "rolemem:%s"}
}

func (r *RedisRoleMembershipStore) key(subjectID string) string {
	return fmt.Sprintf(r.keyFmt, subjectID)
}

func (r *RedisRoleMembershipStore) AssignRole(ctx context.Context, subjectID, roleName string) error {
	if err := r.client.SAdd(ctx, r.key(subjectID), roleName).Err(); err != nil {
		return err
	}
	return r.publishChange(ctx, subjectID)
}

func (r *RedisRoleMembershipStore) RevokeRole(ctx context.Context, subjectID, roleName string) error {
	if err := r.client.SRem(ctx, r.key(subjectID), roleName).Err(); err != nil {
		return err
	}
	return r.publishChange(ctx, subjectID)
}

func (r *RedisRoleMembershipStore) ListRoles(ctx context.Context, subjectID string) ([]string, error) {
	return r.client.SMembers(ctx, r.key(subjectID)).Result()
}

// publishChange broadcasts the subject's current role set so subscribers
// can invalidate the matching cache key.
func (r *RedisRoleMembershipStore) publishChange(ctx context.Context, subjectID string) error {
	roles, err := r.ListRoles(ctx, subjectID)
	if err != nil {
		return err
	}
	payload := subjectID + "|" + strings.Join(roles, ",")
	return r.client.Publish(ctx, roleChangeChannel, payload).Err()
}

// RoleChangeEvent is one decoded message from the role-change channel.
type RoleChangeEvent struct {
	SubjectID string
	RoleNames []string
}

// SubscribeRoleChanges listens for membership mutations and invokes
// onChange for each, until ctx is cancelled. Run it in its own goroutine;
// a typical onChange drops the cache entry for the event's role set.
func SubscribeRoleChanges(ctx context.Context, client *redis.Client, onChange func(RoleChangeEvent)) error {
	sub := client.Subscribe(ctx, roleChangeChannel)
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			onChange(decodeRoleChange(msg.Payload))
		}
	}
}

func decodeRoleChange(payload string) RoleChangeEvent {
	ev := RoleChangeEvent{}
	idx := strings.Index(payload, "|")
	if idx == -1 {
		ev.SubjectID = payload
		return ev
	}
	ev.SubjectID = payload[:idx]
	if rest := payload[idx+1:]; rest != "" {
		ev.RoleNames = strings.Split(rest, ",")
	}
	return ev
}
