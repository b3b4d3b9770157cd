package ztp

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// LabInfoName is the per-lab summary file other tools read.
const LabInfoName = "lab-info.toml"

// LabInfo is the on-disk summary of a deployed lab.
type LabInfo struct {
	ID              string `toml:"id"`
	Name            string `toml:"name"`
	User            string `toml:"user"`
	IPv4Network     string `toml:"ipv4_network"`
	IPv4Gateway     string `toml:"ipv4_gateway"`
	IPv4Router      string `toml:"ipv4_router"`
	LoopbackNetwork string `toml:"loopback_network"`
}

// WriteLabInfo writes <labDir>/lab-info.toml from the lab row. The router
// address is the top of the management range, reserved for an external
// router appliance.
func (b *Builder) WriteLabInfo() error {
	info := LabInfo{
		ID:              b.lab.LabID,
		Name:            b.lab.Name,
		User:            b.lab.Owner,
		IPv4Network:     b.lab.MgmtNetwork,
		IPv4Gateway:     b.Gateway().String(),
		IPv4Router:      util.NthIP(b.mgmt, 254).String(),
		LoopbackNetwork: b.lab.LoopbackNetwork,
	}

	if err := os.MkdirAll(b.labDir, 0o755); err != nil {
		return fmt.Errorf("create lab dir %s: %w", b.labDir, err)
	}
	path := filepath.Join(b.labDir, LabInfoName)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(&info); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return nil
}

// ReadLabInfo loads a lab's summary file.
func ReadLabInfo(labDir string) (*LabInfo, error) {
	path := filepath.Join(labDir, LabInfoName)
	var info LabInfo
	if _, err := toml.DecodeFile(path, &info); err != nil {
		if os.IsNotExist(err) {
			return nil, util.NewNotFoundError("lab-info", labDir)
		}
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &info, nil
}
