// Package topo parses lab manifests and compiles them into the expanded,
// index-assigned, interface-resolved model the lifecycle engine provisions
// from. The compiler is pure: it reads the model catalog through a lookup
// function and never touches the store or the host.
package topo

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// Manifest is the declarative lab description submitted by the user.
type Manifest struct {
	Name    string           `toml:"name" json:"name"`
	Nodes   []ManifestNode   `toml:"nodes" json:"nodes"`
	Links   []ManifestLink   `toml:"links" json:"links,omitempty"`
	Bridges []ManifestBridge `toml:"bridges" json:"bridges,omitempty"`
}

// ManifestNode declares one device.
type ManifestNode struct {
	Name    string `toml:"name" json:"name"`
	Model   string `toml:"model" json:"model"`
	Version string `toml:"version" json:"version,omitempty"`
	// Optional hardware overrides; zero means the image default.
	Memory   int `toml:"memory" json:"memory,omitempty"`
	CPUCount int `toml:"cpu_count" json:"cpu_count,omitempty"`
}

// ManifestLink declares a point-to-point edge. Endpoints are
// "node::interface" strings; Kind defaults to p2p_veth.
type ManifestLink struct {
	Src  string `toml:"src" json:"src"`
	Dst  string `toml:"dst" json:"dst"`
	Kind string `toml:"kind" json:"kind,omitempty"`
}

// ManifestBridge declares a shared L2 segment with two or more members.
type ManifestBridge struct {
	Name  string   `toml:"name" json:"name"`
	Links []string `toml:"links" json:"links"`
}

// ParseManifest decodes a TOML manifest. Unknown keys are rejected so a
// typoed field fails loudly instead of silently defaulting.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w: %v", util.ErrValidationFailed, err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("manifest has unknown keys %s: %w",
			strings.Join(keys, ", "), util.ErrValidationFailed)
	}
	return &m, nil
}

// endpoint is one parsed "node::interface" reference.
type endpoint struct {
	Node      string
	Interface string
}

// splitEndpoint parses "node::interface".
func splitEndpoint(s string) (endpoint, error) {
	parts := strings.SplitN(s, "::", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return endpoint{}, fmt.Errorf("endpoint %q is not node::interface: %w", s, util.ErrValidationFailed)
	}
	return endpoint{Node: parts[0], Interface: parts[1]}, nil
}
