package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sherpa-network/sherpa/pkg/util"
)

func linkKeyIdx() string { return idxKey("link", "key") }

// CreateLink persists a new link. The (node_a, node_b, int_a, int_b) tuple
// is unique; both endpoints must belong to the link's lab.
func (s *Store) CreateLink(ctx context.Context, l *Link) (*Link, error) {
	if l.Index < 0 || l.Index > 65535 {
		return nil, fmt.Errorf("link index %d out of range [0, 65535]: %w", l.Index, util.ErrValidationFailed)
	}
	if _, err := s.GetLab(ctx, l.Lab); err != nil {
		return nil, fmt.Errorf("link lab: %w", err)
	}
	for _, nodeID := range []string{l.NodeA, l.NodeB} {
		n, err := s.GetNode(ctx, nodeID)
		if err != nil {
			return nil, fmt.Errorf("link endpoint: %w", err)
		}
		if n.Lab != l.Lab {
			return nil, fmt.Errorf("link endpoint %s belongs to another lab: %w", n.Name, util.ErrValidationFailed)
		}
	}

	id, err := s.nextID(ctx, "link")
	if err != nil {
		return nil, err
	}
	now := time.Now()

	out := *l
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now

	err = s.withTx(ctx, func(tx *redis.Tx) error {
		taken, err := tx.HExists(ctx, linkKeyIdx(), l.key()).Result()
		if err != nil {
			return err
		}
		if taken {
			return util.NewConflictError("link", "endpoints", l.IntA+"<->"+l.IntB)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(id), out.fields())
			pipe.HSet(ctx, linkKeyIdx(), l.key(), id)
			pipe.SAdd(ctx, labLinksIdx(l.Lab), id)
			return nil
		})
		return err
	}, linkKeyIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLink fetches a link by record ID.
func (s *Store) GetLink(ctx context.Context, id string) (*Link, error) {
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseLink(id, vals), nil
}

// ListLinksByLab returns a lab's links ordered by index.
func (s *Store) ListLinksByLab(ctx context.Context, labRecID string) ([]*Link, error) {
	ids, err := s.client.SMembers(ctx, labLinksIdx(labRecID)).Result()
	if err != nil {
		return nil, err
	}
	links := make([]*Link, 0, len(ids))
	for _, id := range ids {
		l, err := s.GetLink(ctx, id)
		if err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Index < links[j].Index })
	return links, nil
}

// UpdateLink replaces the mutable fields of a link. Lab and both endpoint
// nodes are immutable.
func (s *Store) UpdateLink(ctx context.Context, l *Link) (*Link, error) {
	if l.ID == "" {
		return nil, fmt.Errorf("link update requires an ID: %w", util.ErrValidationFailed)
	}

	out := *l
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		vals, err := txGetHash(ctx, tx, l.ID)
		if err != nil {
			return err
		}
		for _, f := range []struct{ field, was, now string }{
			{"lab", vals["lab"], l.Lab},
			{"node_a", vals["node_a"], l.NodeA},
			{"node_b", vals["node_b"], l.NodeB},
		} {
			if f.was != f.now {
				return util.NewImmutableFieldError("link", f.field)
			}
		}
		out.CreatedAt = parseTime(vals["created_at"])
		out.UpdatedAt = time.Now()

		oldKey := vals["node_a"] + "|" + vals["node_b"] + "|" + vals["int_a"] + "|" + vals["int_b"]
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(l.ID), out.fields())
			if oldKey != l.key() {
				pipe.HDel(ctx, linkKeyIdx(), oldKey)
				pipe.HSet(ctx, linkKeyIdx(), l.key(), l.ID)
			}
			return nil
		})
		return err
	}, recordKey(l.ID), linkKeyIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteLink removes a link.
func (s *Store) DeleteLink(ctx context.Context, id string) error {
	l, err := s.GetLink(ctx, id)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(id))
			pipe.HDel(ctx, linkKeyIdx(), l.key())
			pipe.SRem(ctx, labLinksIdx(l.Lab), id)
			return nil
		})
		return err
	}, recordKey(id))
}
