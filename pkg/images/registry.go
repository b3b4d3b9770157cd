package images

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// DiskFileName is the canonical name of a model's boot disk inside its
// version directory.
const DiskFileName = "virtioa.qcow2"

// Registry manages imported images on disk and their rows in the store.
type Registry struct {
	store *store.Store
	// baseDir is <base>/images.
	baseDir string
}

// NewRegistry returns a registry rooted at imagesDir.
func NewRegistry(s *store.Store, imagesDir string) *Registry {
	return &Registry{store: s, baseDir: imagesDir}
}

// ImportResult reports what Import did.
type ImportResult struct {
	Model   string `json:"model"`
	Version string `json:"version"`
	Path    string `json:"path"`
	Copied  bool   `json:"copied"`
	Default bool   `json:"default"`
}

// Import copies a disk image into the registry tree, optionally marks it
// latest, and upserts its NodeImage row. The source file is left in place.
func (r *Registry) Import(ctx context.Context, model, version, srcPath string, latest bool) (*ImportResult, error) {
	tpl, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	if tpl.Kind != store.KindVirtualMachine {
		return nil, fmt.Errorf("model %s is container-native; pull it instead of importing: %w",
			model, util.ErrValidationFailed)
	}
	if version == "" {
		return nil, fmt.Errorf("import requires a version: %w", util.ErrValidationFailed)
	}
	if _, err := os.Stat(srcPath); err != nil {
		return nil, fmt.Errorf("source image: %w", util.NewNotFoundError("file", srcPath))
	}

	versionDir := filepath.Join(r.baseDir, model, version)
	dst := filepath.Join(versionDir, DiskFileName)

	// A prior import left the model tree read-only; reopen it for writing.
	if info, err := os.Stat(filepath.Join(r.baseDir, model)); err == nil && info.IsDir() {
		if err := os.Chmod(filepath.Join(r.baseDir, model), 0o755); err != nil {
			return nil, fmt.Errorf("reopen model dir: %w", err)
		}
	}

	copied := false
	if _, err := os.Stat(dst); os.IsNotExist(err) {
		if err := os.MkdirAll(versionDir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", versionDir, err)
		}
		if err := copyFile(srcPath, dst); err != nil {
			return nil, fmt.Errorf("copy image: %w", err)
		}
		copied = true
	} else if err != nil {
		return nil, err
	}

	if latest {
		link := filepath.Join(r.baseDir, model, "latest")
		_ = os.Remove(link)
		if err := os.Symlink(version, link); err != nil {
			return nil, fmt.Errorf("link latest: %w", err)
		}
	}

	// The tree is read-only; domains boot from copy-on-write clones.
	if err := chmodTree(filepath.Join(r.baseDir, model)); err != nil {
		return nil, fmt.Errorf("set permissions: %w", err)
	}

	if _, err := r.store.UpsertNodeImage(ctx, tpl.row(version, latest)); err != nil {
		return nil, err
	}

	util.WithField("model", model).Infof("imported image %s version %s", model, version)
	return &ImportResult{
		Model:   model,
		Version: version,
		Path:    dst,
		Copied:  copied,
		Default: latest,
	}, nil
}

// ScanResult reports one reconciliation action taken by Scan.
type ScanResult struct {
	Model   string `json:"model"`
	Version string `json:"version"`
	Action  string `json:"action"` // "registered", "ok", "orphan-row"
}

// Scan reconciles the on-disk tree with the store: disk assets without a
// row get one, rows without a disk asset are reported. Idempotent.
func (r *Registry) Scan(ctx context.Context) ([]ScanResult, error) {
	var results []ScanResult

	seen := make(map[string]bool)
	entries, err := os.ReadDir(r.baseDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, modelEntry := range entries {
		if !modelEntry.IsDir() {
			continue
		}
		model := modelEntry.Name()
		tpl, err := Lookup(model)
		if err != nil {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(r.baseDir, model))
		if err != nil {
			return nil, err
		}
		for _, vEntry := range versions {
			version := vEntry.Name()
			if version == "latest" {
				continue
			}
			disk := filepath.Join(r.baseDir, model, version, DiskFileName)
			if _, err := os.Stat(disk); err != nil {
				continue
			}
			seen[model+"|"+version] = true

			if _, err := r.store.GetNodeImage(ctx, model, tpl.Kind, version); err == nil {
				results = append(results, ScanResult{Model: model, Version: version, Action: "ok"})
				continue
			}
			if _, err := r.store.UpsertNodeImage(ctx, tpl.row(version, false)); err != nil {
				return nil, err
			}
			results = append(results, ScanResult{Model: model, Version: version, Action: "registered"})
		}
	}

	rows, err := r.store.ListNodeImages(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.Kind != store.KindVirtualMachine {
			continue
		}
		if !seen[row.Model+"|"+row.Version] {
			results = append(results, ScanResult{Model: row.Model, Version: row.Version, Action: "orphan-row"})
		}
	}
	return results, nil
}

// RegisterContainer upserts the image row for a pulled container by its
// repository reference. The repo must match a catalog model's default
// image.
func (r *Registry) RegisterContainer(ctx context.Context, repo, tag string) (*store.NodeImage, error) {
	for _, model := range Models() {
		tpl, err := Lookup(model)
		if err != nil || tpl.Kind != store.KindContainer || tpl.ContainerImage != repo {
			continue
		}
		row := tpl.row(tag, true)
		return r.store.UpsertNodeImage(ctx, row)
	}
	return nil, fmt.Errorf("repository %s matches no container model: %w",
		repo, util.NewNotFoundError("model", repo))
}

// Resolve returns the image row for a model, either the requested version
// or the (model, kind) default when version is empty.
func (r *Registry) Resolve(ctx context.Context, model, version string) (*store.NodeImage, error) {
	tpl, err := Lookup(model)
	if err != nil {
		return nil, err
	}
	if version == "" || version == "latest" {
		img, err := r.store.GetDefaultImage(ctx, model, tpl.Kind)
		if err != nil {
			return nil, fmt.Errorf("no default image for %s: %w", model, err)
		}
		return img, nil
	}
	img, err := r.store.GetNodeImage(ctx, model, tpl.Kind, version)
	if err != nil {
		return nil, fmt.Errorf("image %s/%s: %w", model, version, err)
	}
	return img, nil
}

// DiskPath returns the on-disk location of a VM image row's boot disk.
func (r *Registry) DiskPath(img *store.NodeImage) string {
	return filepath.Join(r.baseDir, img.Model, img.Version, DiskFileName)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// chmodTree makes the images tree read-only: directories keep the execute
// bit for traversal, files drop all write bits.
func chmodTree(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		if info.IsDir() {
			return os.Chmod(path, 0o555)
		}
		return os.Chmod(path, 0o444)
	})
}
