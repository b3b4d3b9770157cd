package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sherpa-network/sherpa/pkg/util"
)

func bridgeIndexIdx() string { return idxKey("bridge", "index") }

func bridgeIndexKey(labRecID string, index int) string {
	return labRecID + "|" + strconv.Itoa(index)
}

// CreateBridge persists a new shared segment. The index is unique per lab
// and every member node must belong to the bridge's lab.
func (s *Store) CreateBridge(ctx context.Context, b *Bridge) (*Bridge, error) {
	if _, err := s.GetLab(ctx, b.Lab); err != nil {
		return nil, fmt.Errorf("bridge lab: %w", err)
	}
	if len(b.Nodes) < 2 {
		return nil, fmt.Errorf("bridge %s needs at least two members: %w", b.BridgeName, util.ErrValidationFailed)
	}
	for _, nodeID := range b.Nodes {
		n, err := s.GetNode(ctx, nodeID)
		if err != nil {
			return nil, fmt.Errorf("bridge member: %w", err)
		}
		if n.Lab != b.Lab {
			return nil, fmt.Errorf("bridge member %s belongs to another lab: %w", n.Name, util.ErrValidationFailed)
		}
	}

	id, err := s.nextID(ctx, "bridge")
	if err != nil {
		return nil, err
	}
	now := time.Now()

	out := *b
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now

	err = s.withTx(ctx, func(tx *redis.Tx) error {
		taken, err := tx.HExists(ctx, bridgeIndexIdx(), bridgeIndexKey(b.Lab, b.Index)).Result()
		if err != nil {
			return err
		}
		if taken {
			return util.NewConflictError("bridge", "index", strconv.Itoa(b.Index))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(id), out.fields())
			pipe.HSet(ctx, bridgeIndexIdx(), bridgeIndexKey(b.Lab, b.Index), id)
			pipe.SAdd(ctx, labBridgesIdx(b.Lab), id)
			return nil
		})
		return err
	}, bridgeIndexIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetBridge fetches a bridge by record ID.
func (s *Store) GetBridge(ctx context.Context, id string) (*Bridge, error) {
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseBridge(id, vals), nil
}

// ListBridgesByLab returns a lab's bridges ordered by index.
func (s *Store) ListBridgesByLab(ctx context.Context, labRecID string) ([]*Bridge, error) {
	ids, err := s.client.SMembers(ctx, labBridgesIdx(labRecID)).Result()
	if err != nil {
		return nil, err
	}
	bridges := make([]*Bridge, 0, len(ids))
	for _, id := range ids {
		b, err := s.GetBridge(ctx, id)
		if err != nil {
			return nil, err
		}
		bridges = append(bridges, b)
	}
	sort.Slice(bridges, func(i, j int) bool { return bridges[i].Index < bridges[j].Index })
	return bridges, nil
}

// DeleteBridge removes a bridge.
func (s *Store) DeleteBridge(ctx context.Context, id string) error {
	b, err := s.GetBridge(ctx, id)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(id))
			pipe.HDel(ctx, bridgeIndexIdx(), bridgeIndexKey(b.Lab, b.Index))
			pipe.SRem(ctx, labBridgesIdx(b.Lab), id)
			return nil
		})
		return err
	}, recordKey(id))
}
