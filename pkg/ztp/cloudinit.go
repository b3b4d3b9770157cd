package ztp

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/topo"
)

// NoCloud seed file names. The ISO volume label makes cloud-init treat
// the CD-ROM as a datasource.
const (
	cloudInitVolume = "cidata"
	seedISOName     = "cidata.iso"
)

type ciUser struct {
	Name              string   `yaml:"name"`
	Sudo              string   `yaml:"sudo,omitempty"`
	Shell             string   `yaml:"shell,omitempty"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys,omitempty"`
}

type ciUserData struct {
	Hostname        string   `yaml:"hostname"`
	ManageEtcHosts  bool     `yaml:"manage_etc_hosts"`
	SSHPasswordAuth bool     `yaml:"ssh_pwauth"`
	DisableRoot     bool     `yaml:"disable_root"`
	Users           []ciUser `yaml:"users"`
}

type ciMetaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// Netplan v2 document, matched to the management NIC by MAC so the guest
// binds its management address deterministically across reboots.
type ciNetworkDoc struct {
	Network ciNetwork `yaml:"network"`
}

type ciNetwork struct {
	Version   int                   `yaml:"version"`
	Ethernets map[string]ciEthernet `yaml:"ethernets"`
}

type ciEthernet struct {
	Match       ciMatch        `yaml:"match"`
	SetName     string         `yaml:"set-name,omitempty"`
	DHCP4       bool           `yaml:"dhcp4"`
	Addresses   []string       `yaml:"addresses,omitempty"`
	Routes      []ciRoute      `yaml:"routes,omitempty"`
	Nameservers *ciNameservers `yaml:"nameservers,omitempty"`
}

type ciMatch struct {
	MACAddress string `yaml:"macaddress"`
}

type ciRoute struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

type ciNameservers struct {
	Addresses []string `yaml:"addresses"`
}

func (b *Builder) renderUserData(node *topo.NodeExpanded) ([]byte, error) {
	doc := ciUserData{
		Hostname:       node.Name,
		ManageEtcHosts: true,
		DisableRoot:    true,
		Users: []ciUser{{
			Name:              b.owner.Username,
			Sudo:              "ALL=(ALL) NOPASSWD:ALL",
			Shell:             "/bin/bash",
			LockPasswd:        true,
			SSHAuthorizedKeys: b.owner.SSHKeys,
		}},
	}
	body, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("render user-data: %w", err)
	}
	return append([]byte("#cloud-config\n"), body...), nil
}

func (b *Builder) renderMetaData(node *topo.NodeExpanded) ([]byte, error) {
	doc := ciMetaData{
		InstanceID:    fmt.Sprintf("iid-%s-%s", b.lab.LabID, node.Name),
		LocalHostname: node.Name,
	}
	body, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("render meta-data: %w", err)
	}
	return body, nil
}

func (b *Builder) renderNetworkConfig(node *topo.NodeExpanded) ([]byte, error) {
	gw := b.Gateway().String()
	doc := ciNetworkDoc{Network: ciNetwork{
		Version: 2,
		Ethernets: map[string]ciEthernet{
			"mgmt": {
				Match:     ciMatch{MACAddress: ident.NodeMAC(b.lab.LabID, node.Index)},
				SetName:   "eth0",
				DHCP4:     false,
				Addresses: []string{fmt.Sprintf("%s/%d", b.MgmtIP(node.Index), b.mgmtMaskLen())},
				Routes:    []ciRoute{{To: "0.0.0.0/0", Via: gw}},
				Nameservers: &ciNameservers{
					Addresses: []string{gw},
				},
			},
		},
	}}
	body, err := yaml.Marshal(&doc)
	if err != nil {
		return nil, fmt.Errorf("render network-config: %w", err)
	}
	return body, nil
}

// buildCloudInit writes the three NoCloud documents and packs them into
// the seed ISO next to them.
func (b *Builder) buildCloudInit(dir string, node *topo.NodeExpanded) (*Artifact, error) {
	userData, err := b.renderUserData(node)
	if err != nil {
		return nil, err
	}
	metaData, err := b.renderMetaData(node)
	if err != nil {
		return nil, err
	}
	netConfig, err := b.renderNetworkConfig(node)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		"user-data":      userData,
		"meta-data":      metaData,
		"network-config": netConfig,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return nil, fmt.Errorf("write %s for %s: %w", name, node.Name, err)
		}
	}

	isoPath := filepath.Join(dir, seedISOName)
	if err := packISO(isoPath, cloudInitVolume, files); err != nil {
		return nil, fmt.Errorf("node %s: %w", node.Name, err)
	}
	return &Artifact{Kind: KindSeedISO, Path: isoPath}, nil
}
