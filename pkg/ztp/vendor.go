package ztp

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/topo"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// FlashImageName is the FAT32 disk attached to vendor_flash nodes.
const FlashImageName = "flash.img"

const flashVolume = "FLASH"

// vendorData is what the per-model bootstrap templates see.
type vendorData struct {
	Hostname string
	Username string
	MgmtIP   string
	MaskLen  int
	Netmask  string
	Gateway  string
	SSHKeys  []string
}

type vendorTemplate struct {
	// File is the name the NOS expects on its bootstrap flash.
	File string
	Tpl  *template.Template
}

// Bootstrap bodies are intentionally minimal: hostname, management
// address, default route, SSH access. Day-one config belongs to the user.

var iosTemplate = template.Must(template.New("ios").Parse(`hostname {{.Hostname}}
ip domain name lab.local
username {{.Username}} privilege 15 secret 0 sherpa
!
interface GigabitEthernet0/0
 description management
 ip address {{.MgmtIP}} {{.Netmask}}
 no shutdown
!
ip route 0.0.0.0 0.0.0.0 {{.Gateway}}
ip ssh version 2
!
line vty 0 4
 login local
 transport input ssh
!
end
`))

var eosTemplate = template.Must(template.New("eos").Parse(`hostname {{.Hostname}}
username {{.Username}} privilege 15 secret sherpa
!
interface Management1
   description management
   ip address {{.MgmtIP}}/{{.MaskLen}}
!
ip route 0.0.0.0/0 {{.Gateway}}
!
management ssh
   no shutdown
!
end
`))

var junosTemplate = template.Must(template.New("junos").Parse(`system {
    host-name {{.Hostname}};
    root-authentication {
        plain-text-password-value "sherpa123";
{{- range .SSHKeys}}
        ssh-rsa "{{.}}";
{{- end}}
    }
    services {
        ssh;
        netconf {
            ssh;
        }
    }
}
interfaces {
    fxp0 {
        unit 0 {
            family inet {
                address {{.MgmtIP}}/{{.MaskLen}};
            }
        }
    }
}
routing-options {
    static {
        route 0.0.0.0/0 next-hop {{.Gateway}};
    }
}
`))

var vendorTemplates = map[string]vendorTemplate{
	"cisco_iosv":     {File: "startup-config", Tpl: iosTemplate},
	"cisco_iosvl2":   {File: "startup-config", Tpl: iosTemplate},
	"arista_veos":    {File: "startup-config", Tpl: eosTemplate},
	"juniper_vjunos": {File: "juniper.conf", Tpl: junosTemplate},
}

// renderVendor returns the bootstrap file name and its rendered body for
// a model.
func (b *Builder) renderVendor(node *topo.NodeExpanded, img *store.NodeImage) (string, []byte, error) {
	vt, ok := vendorTemplates[img.Model]
	if !ok {
		return "", nil, fmt.Errorf("model %s has no vendor bootstrap template: %w",
			img.Model, util.ErrValidationFailed)
	}
	data := vendorData{
		Hostname: node.Name,
		Username: b.owner.Username,
		MgmtIP:   b.MgmtIP(node.Index).String(),
		MaskLen:  b.mgmtMaskLen(),
		Netmask:  util.MaskDotted(b.mgmtMaskLen()),
		Gateway:  b.Gateway().String(),
		SSHKeys:  b.owner.SSHKeys,
	}
	var buf bytes.Buffer
	if err := vt.Tpl.Execute(&buf, data); err != nil {
		return "", nil, fmt.Errorf("render %s bootstrap for %s: %w", img.Model, node.Name, err)
	}
	return vt.File, buf.Bytes(), nil
}

// buildVendorFlash renders the bootstrap config, keeps a plaintext copy
// next to the image for inspection, and packs it into the FAT32 flash.
func (b *Builder) buildVendorFlash(dir string, node *topo.NodeExpanded, img *store.NodeImage) (*Artifact, error) {
	name, body, err := b.renderVendor(node, img)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
		return nil, fmt.Errorf("write %s for %s: %w", name, node.Name, err)
	}

	path := filepath.Join(dir, FlashImageName)
	if err := packFlash(path, flashVolume, map[string][]byte{name: body}); err != nil {
		return nil, fmt.Errorf("node %s: %w", node.Name, err)
	}
	return &Artifact{Kind: KindFlashImage, Path: path}, nil
}
