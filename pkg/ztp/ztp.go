// Package ztp builds the zero-touch-provisioning payloads a node consumes
// on first boot: cloud-init seed ISOs, Ignition documents, and vendor
// flash images, plus the per-lab ssh_config and lab-info.toml files.
// Everything lands under the lab working directory. The builder does not
// pick the method; it follows the image row's ztp_method tag.
package ztp

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/topo"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// ArtifactKind tells the bring-up pipeline how to attach a built payload.
type ArtifactKind string

const (
	// KindSeedISO is a cidata ISO-9660 image attached as a CD-ROM.
	KindSeedISO ArtifactKind = "seed_iso"
	// KindIgnition is a JSON document fed through qemu fw_cfg.
	KindIgnition ArtifactKind = "ignition"
	// KindFlashImage is a FAT32 disk carrying a vendor-native config.
	KindFlashImage ArtifactKind = "flash_image"
	// KindNone means the node configures itself (container-native path).
	KindNone ArtifactKind = "none"
)

// Artifact describes one built payload. Path is empty for KindNone.
type Artifact struct {
	Kind ArtifactKind
	Path string
}

// Builder renders ZTP payloads for one lab. It is deterministic for a
// given lab row, owner, and compiled topology.
type Builder struct {
	lab    *store.Lab
	owner  *store.User
	labDir string
	mgmt   *net.IPNet
}

// NewBuilder returns a builder rooted at labDir, the per-lab working
// directory.
func NewBuilder(lab *store.Lab, owner *store.User, labDir string) (*Builder, error) {
	_, mgmt, err := net.ParseCIDR(lab.MgmtNetwork)
	if err != nil {
		return nil, fmt.Errorf("lab %s management network %q: %w",
			lab.LabID, lab.MgmtNetwork, util.ErrValidationFailed)
	}
	return &Builder{lab: lab, owner: owner, labDir: labDir, mgmt: mgmt}, nil
}

// Dir returns the lab working directory.
func (b *Builder) Dir() string { return b.labDir }

// NodeDir returns the per-node subdirectory payloads are written into.
func (b *Builder) NodeDir(node string) string {
	return filepath.Join(b.labDir, node)
}

// MgmtIP returns the management address of a node by index. Index 0 is
// the host-side gateway where the DHCP/ZTP server answers, so node N
// lands on host part N+1.
func (b *Builder) MgmtIP(nodeIndex int) net.IP {
	return util.NthIP(b.mgmt, nodeIndex+1)
}

// Gateway returns the host-side NAT gateway of the management network.
func (b *Builder) Gateway() net.IP {
	return util.NthIP(b.mgmt, 1)
}

func (b *Builder) mgmtMaskLen() int {
	ones, _ := b.mgmt.Mask.Size()
	return ones
}

// Build produces the payload for one node per its image's ztp_method and
// returns where the hypervisor should pick it up.
func (b *Builder) Build(node *topo.NodeExpanded, img *store.NodeImage) (*Artifact, error) {
	if img.ZTPMethod == store.ZTPNone {
		return &Artifact{Kind: KindNone}, nil
	}
	dir := b.NodeDir(node.Name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create node dir %s: %w", dir, err)
	}

	switch img.ZTPMethod {
	case store.ZTPCloudInit:
		return b.buildCloudInit(dir, node)
	case store.ZTPIgnition:
		return b.buildIgnition(dir, node)
	case store.ZTPVendorFlash:
		return b.buildVendorFlash(dir, node, img)
	}
	return nil, fmt.Errorf("image %s/%s: unknown ztp method %q: %w",
		img.Model, img.Version, img.ZTPMethod, util.ErrValidationFailed)
}
