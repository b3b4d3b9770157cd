package ztp

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sherpa-network/sherpa/pkg/store"
)

// SSHConfigName is the per-lab OpenSSH client config.
const SSHConfigName = "ssh_config"

// WriteSSHConfig writes <labDir>/ssh_config with one Host block per node
// that has settled a management address. Usage: ssh -F <labDir>/ssh_config <node>.
func (b *Builder) WriteSSHConfig(nodes []*store.Node) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# lab %s (%s), owner %s\n", b.lab.Name, b.lab.LabID, b.lab.Owner)

	for _, n := range nodes {
		if n.MgmtIPv4 == "" {
			fmt.Fprintf(&buf, "\n# %s: no management address recorded\n", n.Name)
			continue
		}
		fmt.Fprintf(&buf, "\nHost %s\n", n.Name)
		fmt.Fprintf(&buf, "    HostName %s\n", n.MgmtIPv4)
		fmt.Fprintf(&buf, "    User %s\n", b.owner.Username)
		buf.WriteString("    StrictHostKeyChecking no\n")
		buf.WriteString("    UserKnownHostsFile /dev/null\n")
	}

	path := filepath.Join(b.labDir, SSHConfigName)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
