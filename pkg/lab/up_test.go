package lab

import (
	"context"
	"strings"
	"testing"

	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/store"
)

// ============================================================
// Bring-up pipeline
// ============================================================

const twoRouterManifest = `
name = "hello"

[[nodes]]
name = "r1"
model = "cisco_iosv"

[[nodes]]
name = "r2"
model = "cisco_iosv"

[[links]]
src = "r1::Gi0/1"
dst = "r2::Gi0/1"
`

var alice = &store.User{ID: "user:alice", Username: "alice"}

func TestUpTwoRouterLab(t *testing.T) {
	h := newHarness(t)
	labID := ident.LabID("alice", "hello")

	// The fake hypervisor answers the settlement poll with the pinned
	// leases straight away.
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"
	h.fv.ips[ident.DomainName("r2", labID)] = "172.20.0.3"

	var progress progressLog
	sum, err := h.engine.Up(context.Background(), twoRouterManifest, alice, &progress)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !sum.Success {
		t.Fatalf("expected success, got errors: %+v", sum.Errors)
	}
	if sum.LabID != labID {
		t.Errorf("lab id = %s, want %s", sum.LabID, labID)
	}
	if sum.Owner != "alice" || sum.Name != "hello" {
		t.Errorf("summary identity = %s/%s", sum.Owner, sum.Name)
	}

	if len(sum.Nodes) != 2 {
		t.Fatalf("summary has %d nodes, want 2", len(sum.Nodes))
	}
	for i, want := range []NodeStatus{
		{Name: "r1", Model: "cisco_iosv", State: "running", MgmtIPv4: "172.20.0.2"},
		{Name: "r2", Model: "cisco_iosv", State: "running", MgmtIPv4: "172.20.0.3"},
	} {
		if sum.Nodes[i] != want {
			t.Errorf("node[%d] = %+v, want %+v", i, sum.Nodes[i], want)
		}
	}

	// Phase events arrive in order, 1 through 9.
	if len(progress.events) != TotalPhases {
		t.Fatalf("got %d progress events, want %d", len(progress.events), TotalPhases)
	}
	for i, ev := range progress.events {
		if ev.PhaseNumber != i+1 {
			t.Errorf("event %d has phase number %d", i, ev.PhaseNumber)
		}
		if ev.TotalPhases != TotalPhases {
			t.Errorf("event %d total phases = %d", i, ev.TotalPhases)
		}
	}

	// One veth pair cross-connecting two per-side bridges.
	for _, iface := range []string{
		ident.VethA(0, labID), ident.VethB(0, labID),
		ident.BridgeA(0, labID), ident.BridgeB(0, labID),
	} {
		if !h.fh.ifaces[iface] {
			t.Errorf("host interface %s not created", iface)
		}
	}
	if got := h.fh.masters[ident.VethA(0, labID)]; got != ident.BridgeA(0, labID) {
		t.Errorf("vea master = %s", got)
	}
	if got := h.fh.masters[ident.VethB(0, labID)]; got != ident.BridgeB(0, labID) {
		t.Errorf("veb master = %s", got)
	}

	// Management network with both leases pinned; reserved network for the
	// model's unwired third NIC.
	mgmt, ok := h.fv.networks[ident.ManagementNetwork(labID)]
	if !ok {
		t.Fatal("management network not created")
	}
	if len(mgmt.Hosts) != 2 {
		t.Errorf("management network has %d DHCP hosts, want 2", len(mgmt.Hosts))
	}
	if _, ok := h.fv.networks[ident.NetworkName("rsv", labID)]; !ok {
		t.Error("reserved network not created")
	}

	// Boot disk plus bootstrap flash per router.
	for _, node := range []string{"r1", "r2"} {
		for _, file := range []string{"virtioa.qcow2", "flash.img"} {
			vol := h.cfg.StoragePool + "/" + ident.VolumeName(labID, node, file)
			if _, ok := h.fv.volumes[vol]; !ok {
				t.Errorf("volume %s not uploaded", vol)
			}
		}
	}

	// Each domain's data NIC rides its own side of the link.
	r1XML := h.fv.domainXML[ident.DomainName("r1", labID)]
	if !strings.Contains(r1XML, ident.BridgeA(0, labID)) {
		t.Errorf("r1 XML does not attach %s:\n%s", ident.BridgeA(0, labID), r1XML)
	}
	r2XML := h.fv.domainXML[ident.DomainName("r2", labID)]
	if !strings.Contains(r2XML, ident.BridgeB(0, labID)) {
		t.Errorf("r2 XML does not attach %s:\n%s", ident.BridgeB(0, labID), r2XML)
	}
	// cisco_iosv carries three data NICs; the two unwired ones park on the
	// reserved network.
	if !strings.Contains(r1XML, ident.NetworkName("rsv", labID)) {
		t.Errorf("r1 XML does not reference the reserved network:\n%s", r1XML)
	}
}

func TestUpCompileFailureLeavesNoTrace(t *testing.T) {
	h := newHarness(t)

	manifest := `
name = "broken"

[[nodes]]
name = "r1"
model = "no_such_model"
`
	if _, err := h.engine.Up(context.Background(), manifest, alice, nil); err == nil {
		t.Fatal("expected compile error")
	}
	if len(h.fs.labs) != 0 {
		t.Errorf("%d lab rows left behind", len(h.fs.labs))
	}
	if len(h.fs.nodes) != 0 {
		t.Errorf("%d node rows left behind", len(h.fs.nodes))
	}
}

func TestUpDuplicateLabRejected(t *testing.T) {
	h := newHarness(t)
	labID := ident.LabID("alice", "hello")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"
	h.fv.ips[ident.DomainName("r2", labID)] = "172.20.0.3"

	if _, err := h.engine.Up(context.Background(), twoRouterManifest, alice, nil); err != nil {
		t.Fatalf("first Up: %v", err)
	}
	if _, err := h.engine.Up(context.Background(), twoRouterManifest, alice, nil); err == nil {
		t.Fatal("second Up of the same lab should conflict")
	}
	if len(h.fs.labs) != 1 {
		t.Errorf("%d lab rows after duplicate attempt, want 1", len(h.fs.labs))
	}
	if len(h.fs.nodes) != 2 {
		t.Errorf("%d node rows after duplicate attempt, want 2", len(h.fs.nodes))
	}
}

func TestUpPartialLaunchFailure(t *testing.T) {
	h := newHarness(t)
	labID := ident.LabID("alice", "hello")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"
	h.fv.failDefine[ident.DomainName("r2", labID)] = true

	sum, err := h.engine.Up(context.Background(), twoRouterManifest, alice, nil)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if sum.Success {
		t.Fatal("expected partial failure")
	}

	// The failed node never stops its peer.
	if r1 := h.fs.nodeByName("r1"); r1 == nil || r1.State != store.StateRunning {
		t.Errorf("r1 state = %v, want running", r1)
	}
	if r2 := h.fs.nodeByName("r2"); r2 == nil || r2.State != store.StateFailed {
		t.Errorf("r2 state = %v, want failed", r2)
	}

	found := false
	for _, e := range sum.Errors {
		if e.Phase == "domains" && e.Node == "r2" {
			found = true
		}
	}
	if !found {
		t.Errorf("error ledger missing the r2 launch failure: %+v", sum.Errors)
	}
}

func TestUpUDPLink(t *testing.T) {
	h := newHarness(t)
	manifest := `
name = "tunnels"

[[nodes]]
name = "r1"
model = "cisco_iosv"

[[nodes]]
name = "r2"
model = "cisco_iosv"

[[links]]
src = "r1::Gi0/1"
dst = "r2::Gi0/1"
kind = "p2p_udp"
`
	labID := ident.LabID("alice", "tunnels")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"
	h.fv.ips[ident.DomainName("r2", labID)] = "172.20.0.3"

	sum, err := h.engine.Up(context.Background(), manifest, alice, nil)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !sum.Success {
		t.Fatalf("errors: %+v", sum.Errors)
	}

	// No kernel plumbing for a UDP link.
	if len(h.fh.ifaces) != 0 {
		t.Errorf("UDP link created host interfaces: %v", h.fh.ifaces)
	}

	// Both tunnel ends ride the lab loopback /30 with paired ports.
	r1XML := h.fv.domainXML[ident.DomainName("r1", labID)]
	r2XML := h.fv.domainXML[ident.DomainName("r2", labID)]
	for _, want := range []string{"127.0.0.5", "127.0.0.6", "20000", "20001"} {
		if !strings.Contains(r1XML, want) {
			t.Errorf("r1 XML missing %s:\n%s", want, r1XML)
		}
		if !strings.Contains(r2XML, want) {
			t.Errorf("r2 XML missing %s", want)
		}
	}
}

func TestUpUDPLinkRejectsContainers(t *testing.T) {
	h := newHarness(t)
	manifest := `
name = "badudp"

[[nodes]]
name = "r1"
model = "cisco_iosv"

[[nodes]]
name = "h1"
model = "frr"

[[links]]
src = "r1::Gi0/1"
dst = "h1::eth1"
kind = "p2p_udp"
`
	h.fd.present["quay.io/frrouting/frr:1.0"] = true
	labID := ident.LabID("alice", "badudp")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"

	sum, err := h.engine.Up(context.Background(), manifest, alice, nil)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if sum.Success {
		t.Fatal("expected the UDP link to be rejected")
	}
	found := false
	for _, e := range sum.Errors {
		if strings.Contains(e.Message, "p2p_udp") {
			found = true
		}
	}
	if !found {
		t.Errorf("no p2p_udp rejection in the ledger: %+v", sum.Errors)
	}
}

func TestUpMixedContainerLab(t *testing.T) {
	h := newHarness(t)
	manifest := `
name = "mixed"

[[nodes]]
name = "r1"
model = "linux"

[[nodes]]
name = "h1"
model = "frr"

[[links]]
src = "r1::eth1"
dst = "h1::eth1"
`
	h.fd.present["quay.io/frrouting/frr:1.0"] = true
	labID := ident.LabID("alice", "mixed")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"

	sum, err := h.engine.Up(context.Background(), manifest, alice, nil)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !sum.Success {
		t.Fatalf("errors: %+v", sum.Errors)
	}

	// Containers join the VMs' management segment over macvlan, and the
	// link's B side gets a macvlan network over its kernel bridge.
	mgmtName := ident.ManagementNetwork(labID)
	if h.fd.networks[mgmtName] != "macvlan" {
		t.Errorf("management docker network = %q, want macvlan", h.fd.networks[mgmtName])
	}
	brb := ident.BridgeB(0, labID)
	if h.fd.networks[brb] != "macvlan" {
		t.Errorf("link docker network over %s = %q, want macvlan", brb, h.fd.networks[brb])
	}

	spec, ok := h.fd.containers[ident.DomainName("h1", labID)]
	if !ok {
		t.Fatal("h1 container not started")
	}
	if spec.Image != "quay.io/frrouting/frr:1.0" {
		t.Errorf("container image = %s", spec.Image)
	}
	if len(spec.Networks) != 2 {
		t.Fatalf("h1 attached to %d networks, want 2: %+v", len(spec.Networks), spec.Networks)
	}
	if spec.Networks[0].Network != mgmtName || spec.Networks[0].IP != "172.20.0.3" {
		t.Errorf("management attachment = %+v", spec.Networks[0])
	}
	if spec.Networks[1].Network != brb {
		t.Errorf("data attachment = %+v", spec.Networks[1])
	}

	// Settlement reads the pinned address back off the container.
	if h1 := h.fs.nodeByName("h1"); h1 == nil || h1.MgmtIPv4 != "172.20.0.3" {
		t.Errorf("h1 management IP = %v", h1)
	}
}

func TestUpMissingContainerImage(t *testing.T) {
	h := newHarness(t)
	manifest := `
name = "nopull"

[[nodes]]
name = "h1"
model = "frr"
`
	if _, err := h.engine.Up(context.Background(), manifest, alice, nil); err == nil {
		t.Fatal("expected an error for the unpulled container image")
	}
	// Image resolution is inside the atomic prefix: nothing survives.
	if len(h.fs.labs) != 0 {
		t.Errorf("%d lab rows left behind", len(h.fs.labs))
	}
}

func TestUpSharedBridge(t *testing.T) {
	h := newHarness(t)
	manifest := `
name = "segment"

[[nodes]]
name = "r1"
model = "cisco_iosv"

[[nodes]]
name = "r2"
model = "cisco_iosv"

[[nodes]]
name = "r3"
model = "cisco_iosv"

[[bridges]]
name = "core"
links = ["r1::Gi0/1", "r2::Gi0/1", "r3::Gi0/1"]
`
	labID := ident.LabID("alice", "segment")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"
	h.fv.ips[ident.DomainName("r2", labID)] = "172.20.0.3"
	h.fv.ips[ident.DomainName("r3", labID)] = "172.20.0.4"

	sum, err := h.engine.Up(context.Background(), manifest, alice, nil)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !sum.Success {
		t.Fatalf("errors: %+v", sum.Errors)
	}

	bs := ident.SharedBridge(0, labID)
	if !h.fh.ifaces[bs] {
		t.Fatalf("shared kernel bridge %s not created", bs)
	}
	netName := ident.NetworkName("core", labID)
	spec, ok := h.fv.networks[netName]
	if !ok {
		t.Fatalf("shared libvirt network %s not created", netName)
	}
	if spec.Bridge != bs {
		t.Errorf("shared network bridge = %s, want %s", spec.Bridge, bs)
	}

	// All three member NICs reference the shared network.
	for _, n := range []string{"r1", "r2", "r3"} {
		xml := h.fv.domainXML[ident.DomainName(n, labID)]
		if !strings.Contains(xml, netName) {
			t.Errorf("%s XML does not attach %s", n, netName)
		}
	}
}

// ============================================================
// Listing and inspection
// ============================================================

func TestListAndInspect(t *testing.T) {
	h := newHarness(t)
	labID := ident.LabID("alice", "hello")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"
	h.fv.ips[ident.DomainName("r2", labID)] = "172.20.0.3"
	if _, err := h.engine.Up(context.Background(), twoRouterManifest, alice, nil); err != nil {
		t.Fatalf("Up: %v", err)
	}

	own, err := h.engine.List(context.Background(), "alice", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(own) != 1 || own[0].LabID != labID || own[0].Nodes != 2 {
		t.Errorf("owner listing = %+v", own)
	}
	other, err := h.engine.List(context.Background(), "bob", false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("bob sees %d labs", len(other))
	}
	all, err := h.engine.List(context.Background(), "bob", true)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("admin view has %d labs", len(all))
	}

	owner, err := h.engine.Owner(context.Background(), labID)
	if err != nil || owner != "alice" {
		t.Errorf("Owner = %q, %v", owner, err)
	}

	detail, err := h.engine.Inspect(context.Background(), labID)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if detail.Name != "hello" || detail.Owner != "alice" {
		t.Errorf("detail identity = %s/%s", detail.Name, detail.Owner)
	}
	if len(detail.Nodes) != 2 || detail.Nodes[0].Model != "cisco_iosv" {
		t.Errorf("detail nodes = %+v", detail.Nodes)
	}
	if len(detail.Links) != 1 {
		t.Fatalf("detail links = %+v", detail.Links)
	}
	if detail.Links[0].A != "r1::GigabitEthernet0/1" || detail.Links[0].B != "r2::GigabitEthernet0/1" {
		t.Errorf("link endpoints = %+v", detail.Links[0])
	}
}
