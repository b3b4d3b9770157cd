package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sherpa-network/sherpa/pkg/util"
)

func userNameIdx() string { return idxKey("user", "name") }

// CreateUser persists a new user. Usernames are globally unique.
func (s *Store) CreateUser(ctx context.Context, u *User) (*User, error) {
	if err := util.ValidateUsername(u.Username); err != nil {
		return nil, err
	}
	if u.PasswordHash == "" {
		return nil, fmt.Errorf("user %q has no password hash: %w", u.Username, util.ErrValidationFailed)
	}

	id, err := s.nextID(ctx, "user")
	if err != nil {
		return nil, err
	}
	now := time.Now()

	out := *u
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now

	err = s.withTx(ctx, func(tx *redis.Tx) error {
		taken, err := tx.HExists(ctx, userNameIdx(), u.Username).Result()
		if err != nil {
			return err
		}
		if taken {
			return util.NewConflictError("user", "username", u.Username)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(id), out.fields())
			pipe.HSet(ctx, userNameIdx(), u.Username, id)
			return nil
		})
		return err
	}, userNameIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUser fetches a user by record ID.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseUser(id, vals), nil
}

// GetUserByName fetches a user by username.
func (s *Store) GetUserByName(ctx context.Context, username string) (*User, error) {
	id, err := s.lookupIndex(ctx, userNameIdx(), username, "user", username)
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, id)
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	ids, err := s.client.HVals(ctx, userNameIdx()).Result()
	if err != nil {
		return nil, err
	}
	users := make([]*User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// UpdateUser replaces the mutable fields of a user. The username is
// immutable; pass the record with its original Username set.
func (s *Store) UpdateUser(ctx context.Context, u *User) (*User, error) {
	if u.ID == "" {
		return nil, fmt.Errorf("user update requires an ID: %w", util.ErrValidationFailed)
	}

	out := *u
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		vals, err := txGetHash(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if vals["username"] != u.Username {
			return util.NewImmutableFieldError("user", "username")
		}
		out.CreatedAt = parseTime(vals["created_at"])
		out.UpdatedAt = time.Now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(u.ID), out.fields())
			return nil
		})
		return err
	}, recordKey(u.ID))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteUser removes a user. Refuses while the user still owns labs; destroy
// or cascade-delete the labs first.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	id, err := s.lookupIndex(ctx, userNameIdx(), username, "user", username)
	if err != nil {
		return err
	}
	ownerIdx := labOwnerIdx(username)
	return s.withTx(ctx, func(tx *redis.Tx) error {
		n, err := tx.SCard(ctx, ownerIdx).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return util.NewInUseError("user "+username, fmt.Sprintf("%d lab(s)", n))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(id))
			pipe.HDel(ctx, userNameIdx(), username)
			return nil
		})
		return err
	}, ownerIdx, userNameIdx())
}
