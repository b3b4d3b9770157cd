package virt

import (
	"net"
	"strings"
	"testing"
)

// ============================================================
// Volume format inference
// ============================================================

func TestVolumeFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"virtioa.qcow2", "qcow2"},
		{"/base/images/linux/1.0/virtioa.QCOW2", "qcow2"},
		{"cidata.iso", "raw"},
		{"ignition.ign", "raw"},
		{"flash.img", "raw"},
		{"config.json", "raw"},
	}
	for _, tt := range tests {
		if got := VolumeFormat(tt.path); got != tt.want {
			t.Errorf("VolumeFormat(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// ============================================================
// Domain XML
// ============================================================

func TestBuildDomainXML_Basic(t *testing.T) {
	xml, err := BuildDomainXML(DomainSpec{
		Name:        "r1-7a1b2c3d",
		VCPUs:       1,
		MemoryMiB:   2048,
		MachineType: "pc",
		BiosType:    "bios",
		Disks: []DiskSpec{
			{Pool: "sherpa", Volume: "7a1b2c3d-r1-virtioa.qcow2", Format: "qcow2"},
			{Pool: "sherpa", Volume: "7a1b2c3d-r1-cidata.iso", Format: "raw", CDROM: true},
		},
		NICs: []NICSpec{
			{Kind: NICNetwork, Network: "mgmt-7a1b2c3d", MAC: "52:54:00:aa:bb:cc"},
			{Kind: NICBridge, Bridge: "bra0-7a1b2c3d"},
		},
	})
	if err != nil {
		t.Fatalf("BuildDomainXML failed: %v", err)
	}

	for _, want := range []string{
		"<name>r1-7a1b2c3d</name>",
		`machine="pc"`,
		"7a1b2c3d-r1-virtioa.qcow2",
		`device="cdrom"`,
		`address="52:54:00:aa:bb:cc"`,
		`network="mgmt-7a1b2c3d"`,
		`bridge="bra0-7a1b2c3d"`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("domain XML missing %q:\n%s", want, xml)
		}
	}
	if strings.Contains(xml, "pflash") {
		t.Error("bios domain should not carry a UEFI loader")
	}
}

func TestBuildDomainXML_UEFI(t *testing.T) {
	xml, err := BuildDomainXML(DomainSpec{
		Name:      "fcos-7a1b2c3d",
		VCPUs:     2,
		MemoryMiB: 2048,
		BiosType:  "uefi",
		NICs: []NICSpec{
			{Kind: NICNetwork, Network: "mgmt-7a1b2c3d"},
		},
		IgnitionPath: "/var/lib/sherpa/labs/7a1b2c3d/fcos/ignition.ign",
	})
	if err != nil {
		t.Fatalf("BuildDomainXML failed: %v", err)
	}
	for _, want := range []string{
		"pflash",
		"OVMF_CODE.fd",
		"-fw_cfg",
		"opt/com.coreos/config",
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("uefi domain XML missing %q", want)
		}
	}
}

func TestBuildDomainXML_UDPTunnel(t *testing.T) {
	xml, err := BuildDomainXML(DomainSpec{
		Name:      "r1-7a1b2c3d",
		VCPUs:     1,
		MemoryMiB: 1024,
		NICs: []NICSpec{
			{
				Kind:       NICUDP,
				LocalAddr:  "127.0.0.5",
				LocalPort:  20000,
				RemoteAddr: "127.0.0.6",
				RemotePort: 20001,
			},
		},
	})
	if err != nil {
		t.Fatalf("BuildDomainXML failed: %v", err)
	}
	for _, want := range []string{
		`address="127.0.0.6"`,
		`port="20001"`,
		`address="127.0.0.5"`,
		`port="20000"`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("udp tunnel XML missing %q:\n%s", want, xml)
		}
	}
}

func TestBuildDomainXML_Errors(t *testing.T) {
	if _, err := BuildDomainXML(DomainSpec{}); err == nil {
		t.Error("expected error for nameless spec")
	}
	_, err := BuildDomainXML(DomainSpec{
		Name: "x", VCPUs: 1, MemoryMiB: 512,
		NICs: []NICSpec{{Kind: "bogus"}},
	})
	if err == nil {
		t.Error("expected error for unknown NIC kind")
	}
}

// ============================================================
// Network XML
// ============================================================

func TestNetworkXML_Management(t *testing.T) {
	_, subnet, _ := net.ParseCIDR("172.20.5.0/24")
	doc, err := networkXML(NetworkSpec{
		Name:   "mgmt-7a1b2c3d",
		Kind:   NetworkManagement,
		Subnet: subnet,
		Hosts: []DHCPHost{
			{MAC: "52:54:00:aa:bb:cc", IP: "172.20.5.2", Name: "r1"},
		},
	})
	if err != nil {
		t.Fatalf("networkXML failed: %v", err)
	}
	if doc.Forward == nil || doc.Forward.Mode != "nat" {
		t.Error("management network must NAT")
	}
	if len(doc.IPs) != 1 || doc.IPs[0].Address != "172.20.5.1" {
		t.Errorf("gateway = %+v, want 172.20.5.1", doc.IPs)
	}
	dhcp := doc.IPs[0].DHCP
	if dhcp == nil || len(dhcp.Ranges) != 1 {
		t.Fatal("management network needs a DHCP range")
	}
	if dhcp.Ranges[0].Start != "172.20.5.2" || dhcp.Ranges[0].End != "172.20.5.254" {
		t.Errorf("dhcp range = %s..%s", dhcp.Ranges[0].Start, dhcp.Ranges[0].End)
	}
	if len(dhcp.Hosts) != 1 || dhcp.Hosts[0].MAC != "52:54:00:aa:bb:cc" {
		t.Errorf("dhcp hosts = %+v", dhcp.Hosts)
	}
}

func TestNetworkXML_Isolated(t *testing.T) {
	doc, err := networkXML(NetworkSpec{Name: "bra0-7a1b2c3d", Kind: NetworkIsolated})
	if err != nil {
		t.Fatalf("networkXML failed: %v", err)
	}
	if doc.Forward != nil {
		t.Error("isolated network must not forward")
	}
}

func TestNetworkXML_SharedBridge(t *testing.T) {
	doc, err := networkXML(NetworkSpec{
		Name:   "lan0-7a1b2c3d",
		Kind:   NetworkSharedBridge,
		Bridge: "bs0-7a1b2c3d",
	})
	if err != nil {
		t.Fatalf("networkXML failed: %v", err)
	}
	if doc.Forward == nil || doc.Forward.Mode != "bridge" {
		t.Error("shared_bridge network must use bridge forward mode")
	}
	if doc.Bridge == nil || doc.Bridge.Name != "bs0-7a1b2c3d" {
		t.Errorf("bridge = %+v", doc.Bridge)
	}

	if _, err := networkXML(NetworkSpec{Name: "x", Kind: NetworkSharedBridge}); err == nil {
		t.Error("expected error for shared_bridge without a bridge")
	}
}

func TestNetworkXML_UnknownKind(t *testing.T) {
	if _, err := networkXML(NetworkSpec{Name: "x", Kind: "bogus"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}
