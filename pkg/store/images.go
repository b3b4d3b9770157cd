package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sherpa-network/sherpa/pkg/util"
)

func imageKeyIdx() string     { return idxKey("image", "key") }
func imageDefaultIdx() string { return idxKey("image", "default") }

// imageRefsIdx holds the set of node IDs referencing an image record.
func imageRefsIdx(imageID string) string { return idxKey("image", "refs", imageID) }

// UpsertNodeImage creates or replaces the row for the image's natural key
// (model, kind, version). When the row carries Default, sibling versions of
// the same (model, kind) lose the flag in the same transaction.
func (s *Store) UpsertNodeImage(ctx context.Context, img *NodeImage) (*NodeImage, error) {
	if img.Model == "" || img.Version == "" {
		return nil, fmt.Errorf("image requires model and version: %w", util.ErrValidationFailed)
	}
	if _, err := ParseImageKind(string(img.Kind)); err != nil {
		return nil, err
	}

	out := *img
	now := time.Now()
	err := s.withTx(ctx, func(tx *redis.Tx) error {
		existing, err := tx.HGet(ctx, imageKeyIdx(), img.Key()).Result()
		switch {
		case err == redis.Nil:
			id, err := s.nextID(ctx, "image")
			if err != nil {
				return err
			}
			out.ID = id
			out.CreatedAt = now
		case err != nil:
			return err
		default:
			vals, err := txGetHash(ctx, tx, existing)
			if err != nil {
				return err
			}
			out.ID = existing
			out.CreatedAt = parseTime(vals["created_at"])
		}
		out.UpdatedAt = now

		var displaced string
		if out.Default {
			prior, err := tx.HGet(ctx, imageDefaultIdx(), imageDefaultKey(img.Model, img.Kind)).Result()
			if err != nil && err != redis.Nil {
				return err
			}
			if prior != "" && prior != out.ID {
				displaced = prior
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, recordKey(out.ID), out.fields())
			pipe.HSet(ctx, imageKeyIdx(), img.Key(), out.ID)
			if out.Default {
				pipe.HSet(ctx, imageDefaultIdx(), imageDefaultKey(img.Model, img.Kind), out.ID)
				if displaced != "" {
					pipe.HSet(ctx, recordKey(displaced), "default", "false")
				}
			}
			return nil
		})
		return err
	}, imageKeyIdx(), imageDefaultIdx())
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetNodeImage fetches an image by its natural key.
func (s *Store) GetNodeImage(ctx context.Context, model string, kind ImageKind, version string) (*NodeImage, error) {
	key := imageKey(model, kind, version)
	id, err := s.lookupIndex(ctx, imageKeyIdx(), key, "image", key)
	if err != nil {
		return nil, err
	}
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseNodeImage(id, vals), nil
}

// GetDefaultImage fetches the default image row for a (model, kind) pair.
func (s *Store) GetDefaultImage(ctx context.Context, model string, kind ImageKind) (*NodeImage, error) {
	key := imageDefaultKey(model, kind)
	id, err := s.lookupIndex(ctx, imageDefaultIdx(), key, "image", key)
	if err != nil {
		return nil, err
	}
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	img := parseNodeImage(id, vals)
	if !img.Default {
		// The default pointer outlived a non-default rewrite of the row.
		return nil, util.NewNotFoundError("image", key)
	}
	return img, nil
}

// GetImageByID fetches an image record by ID.
func (s *Store) GetImageByID(ctx context.Context, id string) (*NodeImage, error) {
	vals, err := s.getHash(ctx, id)
	if err != nil {
		return nil, err
	}
	return parseNodeImage(id, vals), nil
}

// ListNodeImages returns all image rows ordered by (model, kind, version).
func (s *Store) ListNodeImages(ctx context.Context) ([]*NodeImage, error) {
	ids, err := s.client.HVals(ctx, imageKeyIdx()).Result()
	if err != nil {
		return nil, err
	}
	images := make([]*NodeImage, 0, len(ids))
	for _, id := range ids {
		img, err := s.GetImageByID(ctx, id)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Key() < images[j].Key() })
	return images, nil
}

// DeleteNodeImage removes an image row. Rejected while any node references
// it.
func (s *Store) DeleteNodeImage(ctx context.Context, model string, kind ImageKind, version string) error {
	key := imageKey(model, kind, version)
	id, err := s.lookupIndex(ctx, imageKeyIdx(), key, "image", key)
	if err != nil {
		return err
	}
	refs := imageRefsIdx(id)
	return s.withTx(ctx, func(tx *redis.Tx) error {
		n, err := tx.SCard(ctx, refs).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return util.NewInUseError("image "+key, fmt.Sprintf("%d node(s)", n))
		}
		isDefault, err := tx.HGet(ctx, recordKey(id), "default").Result()
		if err != nil && err != redis.Nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, recordKey(id))
			pipe.HDel(ctx, imageKeyIdx(), key)
			if parseBool(isDefault) {
				pipe.HDel(ctx, imageDefaultIdx(), imageDefaultKey(model, kind))
			}
			return nil
		})
		return err
	}, refs, imageKeyIdx(), imageDefaultIdx())
}
