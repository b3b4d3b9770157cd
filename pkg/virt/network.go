package virt

import (
	"fmt"
	"net"
	"strings"

	libvirt "libvirt.org/go/libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// NetworkKind selects the libvirt network flavor for a lab segment.
type NetworkKind string

const (
	// NetworkIsolated carries one point-to-point link; no forwarding.
	NetworkIsolated NetworkKind = "isolated"
	// NetworkReserved is an isolated per-lab catch-all for NICs the model
	// exposes but the manifest leaves unwired.
	NetworkReserved NetworkKind = "reserved"
	// NetworkManagement NATs the lab to the host and runs DHCP/DNS for
	// the management addresses.
	NetworkManagement NetworkKind = "management"
	// NetworkSharedBridge references a pre-made Linux bridge.
	NetworkSharedBridge NetworkKind = "shared_bridge"
)

// DHCPHost pins one management lease to a node's deterministic MAC.
type DHCPHost struct {
	MAC  string
	IP   string
	Name string
}

// NetworkSpec describes one lab network to create.
type NetworkSpec struct {
	Name string
	Kind NetworkKind
	// Bridge is the Linux bridge to attach for shared_bridge kinds; for
	// the other kinds it names the bridge libvirt creates.
	Bridge string
	// Subnet, Hosts apply to management networks only.
	Subnet *net.IPNet
	Hosts  []DHCPHost
}

// CreateNetwork defines, starts, and autostarts one lab network.
func (s *Session) CreateNetwork(spec NetworkSpec) error {
	doc, err := networkXML(spec)
	if err != nil {
		return err
	}
	xml, err := doc.Marshal()
	if err != nil {
		return err
	}

	return s.run(func(conn *libvirt.Connect) error {
		if old, err := conn.LookupNetworkByName(spec.Name); err == nil {
			old.Free()
			return fmt.Errorf("network %s: %w", spec.Name, util.ErrAlreadyExists)
		}

		nw, err := conn.NetworkDefineXML(xml)
		if err != nil {
			return fmt.Errorf("define network %s: %w", spec.Name, err)
		}
		defer nw.Free()
		if err := nw.Create(); err != nil {
			_ = nw.Undefine()
			return fmt.Errorf("start network %s: %w", spec.Name, err)
		}
		if err := nw.SetAutostart(true); err != nil {
			return fmt.Errorf("autostart network %s: %w", spec.Name, err)
		}
		util.Debugf("virt: created %s network %s", spec.Kind, spec.Name)
		return nil
	})
}

func networkXML(spec NetworkSpec) (*libvirtxml.Network, error) {
	doc := &libvirtxml.Network{Name: spec.Name}

	// A caller-named bridge lets macvlan attachments (container endpoints)
	// parent the same segment the VMs are on.
	if spec.Bridge != "" && spec.Kind != NetworkSharedBridge {
		doc.Bridge = &libvirtxml.NetworkBridge{Name: spec.Bridge}
	}

	switch spec.Kind {
	case NetworkIsolated, NetworkReserved:
		// No forward element: guests on this network see only each other.

	case NetworkSharedBridge:
		if spec.Bridge == "" {
			return nil, fmt.Errorf("shared_bridge network %s needs a bridge: %w",
				spec.Name, util.ErrValidationFailed)
		}
		doc.Forward = &libvirtxml.NetworkForward{Mode: "bridge"}
		doc.Bridge = &libvirtxml.NetworkBridge{Name: spec.Bridge}

	case NetworkManagement:
		if spec.Subnet == nil {
			return nil, fmt.Errorf("management network %s needs a subnet: %w",
				spec.Name, util.ErrValidationFailed)
		}
		ones, bits := spec.Subnet.Mask.Size()
		gateway := util.NthIP(spec.Subnet, 1)
		rangeStart := util.NthIP(spec.Subnet, 2)
		// Last usable host address, one below broadcast.
		rangeEnd := util.NthIP(spec.Subnet, (1<<(bits-ones))-2)

		dhcp := &libvirtxml.NetworkDHCP{
			Ranges: []libvirtxml.NetworkDHCPRange{{
				Start: rangeStart.String(),
				End:   rangeEnd.String(),
			}},
		}
		for _, h := range spec.Hosts {
			dhcp.Hosts = append(dhcp.Hosts, libvirtxml.NetworkDHCPHost{
				MAC:  h.MAC,
				IP:   h.IP,
				Name: h.Name,
			})
		}

		doc.Forward = &libvirtxml.NetworkForward{Mode: "nat"}
		doc.IPs = []libvirtxml.NetworkIP{{
			Address: gateway.String(),
			Netmask: util.MaskDotted(ones),
			DHCP:    dhcp,
		}}

	default:
		return nil, fmt.Errorf("unknown network kind %q: %w", spec.Kind, util.ErrValidationFailed)
	}
	return doc, nil
}

// DestroyNetwork stops and undefines one network.
func (s *Session) DestroyNetwork(name string) error {
	return s.run(func(conn *libvirt.Connect) error {
		nw, err := conn.LookupNetworkByName(name)
		if err != nil {
			return util.NewNotFoundError("network", name)
		}
		defer nw.Free()

		if active, _ := nw.IsActive(); active {
			if err := nw.Destroy(); err != nil {
				return fmt.Errorf("destroy network %s: %w", name, err)
			}
		}
		if err := nw.Undefine(); err != nil {
			return fmt.Errorf("undefine network %s: %w", name, err)
		}
		return nil
	})
}

// ListNetworksFuzzy returns defined network names containing the substring.
func (s *Session) ListNetworksFuzzy(substring string) ([]string, error) {
	var names []string
	err := s.run(func(conn *libvirt.Connect) error {
		nets, err := conn.ListAllNetworks(0)
		if err != nil {
			return fmt.Errorf("list networks: %w", err)
		}
		for i := range nets {
			if name, err := nets[i].GetName(); err == nil && strings.Contains(name, substring) {
				names = append(names, name)
			}
			nets[i].Free()
		}
		return nil
	})
	return names, err
}
