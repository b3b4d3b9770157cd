package ztp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/topo"
)

// IgnitionFileName is the per-node document fed to qemu through fw_cfg.
const IgnitionFileName = "ignition.ign"

const ignitionVersion = "3.4.0"

// Minimal local shapes of the Ignition config schema. Only the pieces
// sherpa emits are modeled; the guest validates the rest.

type ignitionConfig struct {
	Ignition ignitionMeta     `json:"ignition"`
	Passwd   *ignitionPasswd  `json:"passwd,omitempty"`
	Storage  *ignitionStorage `json:"storage,omitempty"`
}

type ignitionMeta struct {
	Version string `json:"version"`
}

type ignitionPasswd struct {
	Users []ignitionUser `json:"users,omitempty"`
}

type ignitionUser struct {
	Name              string   `json:"name"`
	Groups            []string `json:"groups,omitempty"`
	SSHAuthorizedKeys []string `json:"sshAuthorizedKeys,omitempty"`
}

type ignitionStorage struct {
	Files []ignitionFile `json:"files,omitempty"`
}

type ignitionFile struct {
	Path      string           `json:"path"`
	Mode      int              `json:"mode,omitempty"`
	Overwrite bool             `json:"overwrite,omitempty"`
	Contents  ignitionContents `json:"contents"`
}

type ignitionContents struct {
	Source string `json:"source"`
}

func ignitionDataURL(content string) string {
	return "data:," + url.PathEscape(content)
}

func (b *Builder) renderIgnition(node *topo.NodeExpanded) ([]byte, error) {
	mac := ident.NodeMAC(b.lab.LabID, node.Index)
	gw := b.Gateway().String()

	// NetworkManager keyfile pinning the management address to the
	// management NIC's MAC.
	mgmtConn := fmt.Sprintf(`[connection]
id=mgmt
type=ethernet

[ethernet]
mac-address=%s

[ipv4]
method=manual
addresses=%s/%d
gateway=%s
dns=%s

[ipv6]
method=disabled
`, mac, b.MgmtIP(node.Index), b.mgmtMaskLen(), gw, gw)

	doc := ignitionConfig{
		Ignition: ignitionMeta{Version: ignitionVersion},
		Passwd: &ignitionPasswd{
			Users: []ignitionUser{{
				Name:              "core",
				Groups:            []string{"sudo"},
				SSHAuthorizedKeys: b.owner.SSHKeys,
			}},
		},
		Storage: &ignitionStorage{
			Files: []ignitionFile{
				{
					Path:      "/etc/hostname",
					Mode:      0o644,
					Overwrite: true,
					Contents:  ignitionContents{Source: ignitionDataURL(node.Name + "\n")},
				},
				{
					Path:      "/etc/NetworkManager/system-connections/mgmt.nmconnection",
					Mode:      0o600,
					Overwrite: true,
					Contents:  ignitionContents{Source: ignitionDataURL(mgmtConn)},
				},
			},
		},
	}
	body, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render ignition: %w", err)
	}
	return append(body, '\n'), nil
}

func (b *Builder) buildIgnition(dir string, node *topo.NodeExpanded) (*Artifact, error) {
	body, err := b.renderIgnition(node)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, IgnitionFileName)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, fmt.Errorf("write ignition for %s: %w", node.Name, err)
	}
	return &Artifact{Kind: KindIgnition, Path: path}, nil
}
