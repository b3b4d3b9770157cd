package store

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sherpa-network/sherpa/pkg/util"
)

func labIDIdx() string   { return idxKey("lab", "labid") }
func labNameIdx() string { return idxKey("lab", "name") }

// labOwnerIdx holds the set of lab record IDs owned by a user.
func labOwnerIdx(owner string) string { return idxKey("lab", "owner", owner) }

// Per-lab child sets.
func labNodesIdx(labRecID string) string   { return idxKey("lab", labRecID, "nodes") }
func labLinksIdx(labRecID string) string   { return idxKey("lab", labRecID, "links") }
func labBridgesIdx(labRecID string) string { return idxKey("lab", labRecID, "bridges") }

func labNameKey(owner, name string) string { return owner + "|" + name }

// CreateLab persists a new lab. The lab ID is globally unique and the name
// is unique per owner; the owner must exist.
func (s *Store) CreateLab(ctx context.Context, lab *Lab) (*Lab, error) {
	if lab.LabID == "" || lab.Name == "" || lab.Owner == "" {
		return nil, fmt.Errorf("lab requires lab_id, name, and owner: %w", util.ErrValidationFailed)
	}
	if _, err := s.GetUserByName(ctx, lab.Owner); err != nil {
		return nil, fmt.Errorf("lab owner: %w", err)
	}

	id, err := s.nextID(ctx, "lab")
	if err != nil {
		return nil, err
	}
	now := time.Now()

	out := *lab
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now

	err = s.withTx(ctx, func(tx *redis.Tx) error {
		taken, err := tx.HExists(ctx, labIDIdx(), lab.LabID).Result()
		if err != nil {
			return err
		}
		if taken {
			return util.NewConflictError("lab", "lab_id", lab.LabID)
		}
		taken, err = tx.HExists(ctx, labNameIdx(), labNameKey(lab.Owner, lab.Name)).Result()
		if err != nil {
			return err
		}
		if taken {
			return util.NewConflictError("lab", "name", lab.Name)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(id), out.fields())
			pipe.HSet(ctx, labIDIdx(), lab.LabID, id)
			pipe.HSet(ctx, labNameIdx(), labNameKey(lab.Owner, lab.Name), id)
			pipe.SAdd(ctx, labOwnerIdx(lab.Owner), id)
			return nil
		})
		return err
	}, labIDIdx(), labNameIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetLab fetches a lab by record ID.
func (s *Store) GetLab(ctx context.Context, id string) (*Lab, error) {
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseLab(id, vals), nil
}

// GetLabByLabID fetches a lab by its 8-hex-digit identifier.
func (s *Store) GetLabByLabID(ctx context.Context, labID string) (*Lab, error) {
	id, err := s.lookupIndex(ctx, labIDIdx(), labID, "lab", labID)
	if err != nil {
		return nil, err
	}
	return s.GetLab(ctx, id)
}

// GetLabByName fetches a lab by owner and name.
func (s *Store) GetLabByName(ctx context.Context, owner, name string) (*Lab, error) {
	id, err := s.lookupIndex(ctx, labNameIdx(), labNameKey(owner, name), "lab", name)
	if err != nil {
		return nil, err
	}
	return s.GetLab(ctx, id)
}

// ListLabs returns every lab ordered by (owner, name).
func (s *Store) ListLabs(ctx context.Context) ([]*Lab, error) {
	ids, err := s.client.HVals(ctx, labIDIdx()).Result()
	if err != nil {
		return nil, err
	}
	return s.labsByIDs(ctx, ids)
}

// ListLabsByOwner returns a user's labs ordered by name.
func (s *Store) ListLabsByOwner(ctx context.Context, owner string) ([]*Lab, error) {
	ids, err := s.client.SMembers(ctx, labOwnerIdx(owner)).Result()
	if err != nil {
		return nil, err
	}
	return s.labsByIDs(ctx, ids)
}

func (s *Store) labsByIDs(ctx context.Context, ids []string) ([]*Lab, error) {
	labs := make([]*Lab, 0, len(ids))
	for _, id := range ids {
		lab, err := s.GetLab(ctx, id)
		if err != nil {
			return nil, err
		}
		labs = append(labs, lab)
	}
	sort.Slice(labs, func(i, j int) bool {
		if labs[i].Owner != labs[j].Owner {
			return labs[i].Owner < labs[j].Owner
		}
		return labs[i].Name < labs[j].Name
	})
	return labs, nil
}

// UsedNetworks returns the loopback and management networks of every active
// lab, for the allocator's disjointness checks.
func (s *Store) UsedNetworks(ctx context.Context) (loopbacks, mgmt []*net.IPNet, err error) {
	labs, err := s.ListLabs(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, lab := range labs {
		if _, n, err := net.ParseCIDR(lab.LoopbackNetwork); err == nil {
			loopbacks = append(loopbacks, n)
		}
		if _, n, err := net.ParseCIDR(lab.MgmtNetwork); err == nil {
			mgmt = append(mgmt, n)
		}
	}
	return loopbacks, mgmt, nil
}

// UpdateLab replaces the mutable fields of a lab. The owner is immutable.
func (s *Store) UpdateLab(ctx context.Context, lab *Lab) (*Lab, error) {
	if lab.ID == "" {
		return nil, fmt.Errorf("lab update requires an ID: %w", util.ErrValidationFailed)
	}

	out := *lab
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		vals, err := txGetHash(ctx, tx, lab.ID)
		if err != nil {
			return err
		}
		if vals["owner"] != lab.Owner {
			return util.NewImmutableFieldError("lab", "user")
		}
		out.CreatedAt = parseTime(vals["created_at"])
		out.UpdatedAt = time.Now()

		var renameFrom string
		if vals["name"] != lab.Name {
			renameFrom = vals["name"]
			taken, err := tx.HExists(ctx, labNameIdx(), labNameKey(lab.Owner, lab.Name)).Result()
			if err != nil {
				return err
			}
			if taken {
				return util.NewConflictError("lab", "name", lab.Name)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(lab.ID), out.fields())
			if renameFrom != "" {
				pipe.HDel(ctx, labNameIdx(), labNameKey(lab.Owner, renameFrom))
				pipe.HSet(ctx, labNameIdx(), labNameKey(lab.Owner, lab.Name), lab.ID)
			}
			return nil
		})
		return err
	}, recordKey(lab.ID), labNameIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteLabCascade removes a lab and all of its links, bridges, and nodes.
// Children go first so a failure part-way leaves the lab discoverable.
func (s *Store) DeleteLabCascade(ctx context.Context, labID string) error {
	lab, err := s.GetLabByLabID(ctx, labID)
	if err != nil {
		return err
	}

	links, err := s.ListLinksByLab(ctx, lab.ID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := s.DeleteLink(ctx, l.ID); err != nil {
			return fmt.Errorf("cascade link %s: %w", l.ID, err)
		}
	}

	bridges, err := s.ListBridgesByLab(ctx, lab.ID)
	if err != nil {
		return err
	}
	for _, b := range bridges {
		if err := s.DeleteBridge(ctx, b.ID); err != nil {
			return fmt.Errorf("cascade bridge %s: %w", b.ID, err)
		}
	}

	nodes, err := s.ListNodesByLab(ctx, lab.ID)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if err := s.deleteNodeRow(ctx, n); err != nil {
			return fmt.Errorf("cascade node %s: %w", n.Name, err)
		}
	}

	return s.withTx(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(lab.ID))
			pipe.Del(ctx, labNodesIdx(lab.ID), labLinksIdx(lab.ID), labBridgesIdx(lab.ID))
			pipe.HDel(ctx, labIDIdx(), lab.LabID)
			pipe.HDel(ctx, labNameIdx(), labNameKey(lab.Owner, lab.Name))
			pipe.SRem(ctx, labOwnerIdx(lab.Owner), lab.ID)
			return nil
		})
		return err
	}, recordKey(lab.ID))
}
