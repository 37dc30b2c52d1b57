package redis

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	pl "github.com/panyam/passlink"
)

const (
	DefaultSessionPrefix     = "passlink:session:"
	DefaultUserSessionPrefix = "passlink:user_sessions:"
)

// SessionStore is an scs.Store (with the Ctx and Iterable variants) over
// Redis. Each session is a key with a native TTL; a per-user set tracks the
// session tokens of a user so they can be revoked together. The set expires
// with the user's longest lived session.
type SessionStore struct {
	client     goredis.UniversalClient
	prefix     string
	userPrefix string
}

func NewSessionStore(client goredis.UniversalClient) *SessionStore {
	return &SessionStore{
		client:     client,
		prefix:     DefaultSessionPrefix,
		userPrefix: DefaultUserSessionPrefix,
	}
}

func (s *SessionStore) Find(token string) ([]byte, bool, error) {
	return s.FindCtx(context.Background(), token)
}

func (s *SessionStore) Commit(token string, b []byte, expiry time.Time) error {
	return s.CommitCtx(context.Background(), token, b, expiry)
}

func (s *SessionStore) Delete(token string) error {
	return s.DeleteCtx(context.Background(), token)
}

func (s *SessionStore) FindCtx(ctx context.Context, token string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if stderrors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "find session")
	}
	return b, true, nil
}

func (s *SessionStore) CommitCtx(ctx context.Context, token string, b []byte, expiry time.Time) error {
	ttl := time.Until(expiry)
	if ttl <= 0 {
		return s.DeleteCtx(ctx, token)
	}
	var setKey string
	setTTL := ttl
	if rec, err := pl.DecodeSessionRecord(b); err == nil && rec.UserID != "" {
		setKey = s.userPrefix + rec.UserID
		// the set lives as long as its longest session
		if current, err := s.client.PTTL(ctx, setKey).Result(); err == nil && current > setTTL {
			setTTL = current
		}
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, s.prefix+token, b, ttl)
		if setKey != "" {
			pipe.SAdd(ctx, setKey, token)
			pipe.PExpire(ctx, setKey, setTTL)
		}
		return nil
	})
	return errors.Wrap(err, "commit session")
}

func (s *SessionStore) DeleteCtx(ctx context.Context, token string) error {
	b, found, err := s.FindCtx(ctx, token)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.prefix+token)
		if found {
			if rec, err := pl.DecodeSessionRecord(b); err == nil && rec.UserID != "" {
				pipe.SRem(ctx, s.userPrefix+rec.UserID, token)
			}
		}
		return nil
	})
	return errors.Wrap(err, "delete session")
}

// All returns every live session keyed by token
func (s *SessionStore) All() (map[string][]byte, error) {
	return s.AllCtx(context.Background())
}

func (s *SessionStore) AllCtx(ctx context.Context) (map[string][]byte, error) {
	out := make(map[string][]byte)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		b, err := s.client.Get(ctx, key).Bytes()
		if stderrors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "list sessions")
		}
		out[strings.TrimPrefix(key, s.prefix)] = b
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Wrap(err, "scan sessions")
	}
	return out, nil
}

// DeleteUserSessions removes every session recorded for the user, including
// set members whose session key already expired.
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	setKey := s.userPrefix + userID
	tokens, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return errors.Wrap(err, "list user sessions")
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, token := range tokens {
		keys = append(keys, s.prefix+token)
	}
	keys = append(keys, setKey)
	return errors.Wrap(s.client.Del(ctx, keys...).Err(), "delete user sessions")
}
