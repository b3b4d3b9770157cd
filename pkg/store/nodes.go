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

func nodeNameIdx() string  { return idxKey("node", "name") }
func nodeIndexIdx() string { return idxKey("node", "index") }

func nodeNameKey(labRecID, name string) string { return labRecID + "|" + name }
func nodeIndexKey(labRecID string, index int) string {
	return labRecID + "|" + strconv.Itoa(index)
}

// CreateNode persists a new node. Name and index are unique per lab; the
// referenced lab and image rows must exist. Index 0 is reserved for the
// management network's ZTP server.
func (s *Store) CreateNode(ctx context.Context, n *Node) (*Node, error) {
	if err := util.ValidateResourceName("node", n.Name); err != nil {
		return nil, err
	}
	if n.Index < 1 || n.Index > 65535 {
		return nil, fmt.Errorf("node index %d out of range [1, 65535]: %w", n.Index, util.ErrValidationFailed)
	}
	if _, err := s.GetLab(ctx, n.Lab); err != nil {
		return nil, fmt.Errorf("node lab: %w", err)
	}
	if _, err := s.getHash(ctx, n.Image); err != nil {
		return nil, fmt.Errorf("node image: %w", err)
	}
	if n.State == "" {
		n.State = StateUnknown
	}

	id, err := s.nextID(ctx, "node")
	if err != nil {
		return nil, err
	}
	now := time.Now()

	out := *n
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now

	err = s.withTx(ctx, func(tx *redis.Tx) error {
		taken, err := tx.HExists(ctx, nodeNameIdx(), nodeNameKey(n.Lab, n.Name)).Result()
		if err != nil {
			return err
		}
		if taken {
			return util.NewConflictError("node", "name", n.Name)
		}
		taken, err = tx.HExists(ctx, nodeIndexIdx(), nodeIndexKey(n.Lab, n.Index)).Result()
		if err != nil {
			return err
		}
		if taken {
			return util.NewConflictError("node", "index", strconv.Itoa(n.Index))
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(id), out.fields())
			pipe.HSet(ctx, nodeNameIdx(), nodeNameKey(n.Lab, n.Name), id)
			pipe.HSet(ctx, nodeIndexIdx(), nodeIndexKey(n.Lab, n.Index), id)
			pipe.SAdd(ctx, labNodesIdx(n.Lab), id)
			pipe.SAdd(ctx, imageRefsIdx(n.Image), id)
			return nil
		})
		return err
	}, nodeNameIdx(), nodeIndexIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNode fetches a node by record ID.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseNode(id, vals), nil
}

// GetNodeByName fetches a node by lab record ID and name.
func (s *Store) GetNodeByName(ctx context.Context, labRecID, name string) (*Node, error) {
	id, err := s.lookupIndex(ctx, nodeNameIdx(), nodeNameKey(labRecID, name), "node", name)
	if err != nil {
		return nil, err
	}
	return s.GetNode(ctx, id)
}

// ListNodesByLab returns a lab's nodes ordered by index.
func (s *Store) ListNodesByLab(ctx context.Context, labRecID string) ([]*Node, error) {
	ids, err := s.client.SMembers(ctx, labNodesIdx(labRecID)).Result()
	if err != nil {
		return nil, err
	}
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		n, err := s.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Index < nodes[j].Index })
	return nodes, nil
}

// UpdateNode replaces the mutable fields of a node. Lab, name, index, and
// image are immutable; state changes must follow the node lifecycle.
func (s *Store) UpdateNode(ctx context.Context, n *Node) (*Node, error) {
	if n.ID == "" {
		return nil, fmt.Errorf("node update requires an ID: %w", util.ErrValidationFailed)
	}

	out := *n
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		vals, err := txGetHash(ctx, tx, n.ID)
		if err != nil {
			return err
		}
		for _, f := range []struct{ field, was, now string }{
			{"lab", vals["lab"], n.Lab},
			{"name", vals["name"], n.Name},
			{"index", vals["index"], strconv.Itoa(n.Index)},
			{"image", vals["image"], n.Image},
		} {
			if f.was != f.now {
				return util.NewImmutableFieldError("node", f.field)
			}
		}
		if !ValidTransition(NodeState(vals["state"]), n.State) {
			return fmt.Errorf("node %s cannot go from %s to %s: %w",
				n.Name, vals["state"], n.State, util.ErrValidationFailed)
		}
		out.CreatedAt = parseTime(vals["created_at"])
		out.UpdatedAt = time.Now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(n.ID), out.fields())
			return nil
		})
		return err
	}, recordKey(n.ID))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetNodeState transitions a node's lifecycle state.
func (s *Store) SetNodeState(ctx context.Context, id string, state NodeState) error {
	return s.withTx(ctx, func(tx *redis.Tx) error {
		vals, err := txGetHash(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ValidTransition(NodeState(vals["state"]), state) {
			return fmt.Errorf("node %s cannot go from %s to %s: %w",
				vals["name"], vals["state"], state, util.ErrValidationFailed)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(id), "state", string(state), "updated_at", formatTime(time.Now()))
			return nil
		})
		return err
	}, recordKey(id))
}

// SetNodeMgmtIP records the management address discovered during settlement.
func (s *Store) SetNodeMgmtIP(ctx context.Context, id, addr string) error {
	return s.client.HSet(ctx, recordKey(id),
		"mgmt_ipv4", addr, "updated_at", formatTime(time.Now())).Err()
}

// DeleteNodeCascade removes a node and every link that references it.
func (s *Store) DeleteNodeCascade(ctx context.Context, id string) error {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return err
	}
	links, err := s.ListLinksByLab(ctx, n.Lab)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.NodeA != id && l.NodeB != id {
			continue
		}
		if err := s.DeleteLink(ctx, l.ID); err != nil {
			return fmt.Errorf("cascade link %s: %w", l.ID, err)
		}
	}
	return s.deleteNodeRow(ctx, n)
}

func (s *Store) deleteNodeRow(ctx context.Context, n *Node) error {
	return s.withTx(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(n.ID))
			pipe.HDel(ctx, nodeNameIdx(), nodeNameKey(n.Lab, n.Name))
			pipe.HDel(ctx, nodeIndexIdx(), nodeIndexKey(n.Lab, n.Index))
			pipe.SRem(ctx, labNodesIdx(n.Lab), n.ID)
			pipe.SRem(ctx, imageRefsIdx(n.Image), n.ID)
			return nil
		})
		return err
	}, recordKey(n.ID))
}
