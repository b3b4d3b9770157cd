package lab

import (
	"context"
	"os"
	"testing"

	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/store"
)

// ============================================================
// Teardown
// ============================================================

func deployTwoRouters(t *testing.T, h *harness) string {
	t.Helper()
	labID := ident.LabID("alice", "hello")
	h.fv.ips[ident.DomainName("r1", labID)] = "172.20.0.2"
	h.fv.ips[ident.DomainName("r2", labID)] = "172.20.0.3"
	sum, err := h.engine.Up(context.Background(), twoRouterManifest, alice, nil)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if !sum.Success {
		t.Fatalf("bring-up errors: %+v", sum.Errors)
	}
	return labID
}

func TestDestroyReclaimsEverything(t *testing.T) {
	h := newHarness(t)
	labID := deployTwoRouters(t, h)

	// A host interface the lab does not own must survive the sweep.
	if err := h.fh.BridgeCreate("virbr0"); err != nil {
		t.Fatal(err)
	}

	sum, err := h.engine.Destroy(context.Background(), labID)
	if err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !sum.Success {
		t.Fatalf("teardown failures: %+v", sum.Failed)
	}

	if len(h.fv.domains) != 0 {
		t.Errorf("domains remain: %v", h.fv.domains)
	}
	if len(h.fv.volumes) != 0 {
		t.Errorf("volumes remain: %v", h.fv.volumes)
	}
	if len(h.fv.networks) != 0 {
		t.Errorf("libvirt networks remain: %v", h.fv.networks)
	}
	if len(h.fh.ifaces) != 1 || !h.fh.ifaces["virbr0"] {
		t.Errorf("host interfaces after teardown: %v", h.fh.ifaces)
	}
	if len(h.fs.labs) != 0 || len(h.fs.nodes) != 0 || len(h.fs.links) != 0 {
		t.Error("store rows remain after cascade delete")
	}
	if _, err := os.Stat(h.cfg.LabDir(labID)); !os.IsNotExist(err) {
		t.Errorf("lab directory still present: %v", err)
	}
}

func TestDestroyMixedLab(t *testing.T) {
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
	if err != nil || !sum.Success {
		t.Fatalf("Up: %v %+v", err, sum)
	}

	dsum, err := h.engine.Destroy(context.Background(), labID)
	if err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if !dsum.Success {
		t.Fatalf("teardown failures: %+v", dsum.Failed)
	}
	if len(h.fd.containers) != 0 {
		t.Errorf("containers remain: %v", h.fd.containers)
	}
	if len(h.fd.networks) != 0 {
		t.Errorf("docker networks remain: %v", h.fd.networks)
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	h := newHarness(t)
	labID := deployTwoRouters(t, h)

	if sum, _ := h.engine.Destroy(context.Background(), labID); !sum.Success {
		t.Fatalf("first destroy failed: %+v", sum.Failed)
	}
	// A second pass over a clean host finds nothing, succeeds, and
	// reports an empty ledger: nothing removed, nothing failed.
	sum, err := h.engine.Destroy(context.Background(), labID)
	if err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if !sum.Success {
		t.Errorf("second destroy failures: %+v", sum.Failed)
	}
	if len(sum.Removed) != 0 {
		t.Errorf("second destroy removed = %v, want empty", sum.Removed)
	}
	if len(sum.Failed) != 0 {
		t.Errorf("second destroy failed = %v, want empty", sum.Failed)
	}
}

// ============================================================
// Suspend and resume
// ============================================================

func TestSuspendResumeBatch(t *testing.T) {
	h := newHarness(t)
	labID := deployTwoRouters(t, h)
	r2 := ident.DomainName("r2", labID)

	// Put r2 out of band so the batch has one skip.
	if err := h.fv.Suspend(r2); err != nil {
		t.Fatal(err)
	}

	results, err := h.engine.Suspend(context.Background(), labID)
	if err != nil {
		t.Fatalf("Suspend: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	byDomain := make(map[string]VmActionResult)
	for _, r := range results {
		byDomain[r.Domain] = r
	}
	if r := byDomain[ident.DomainName("r1", labID)]; !r.OK {
		t.Errorf("r1 suspend = %+v", r)
	}
	if r := byDomain[r2]; r.OK || r.Detail != "skipped: domain is paused" {
		t.Errorf("r2 suspend = %+v", r)
	}
	if n := h.fs.nodeByName("r1"); n.State != store.StatePaused {
		t.Errorf("r1 state = %s", n.State)
	}

	results, err = h.engine.Resume(context.Background(), labID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	for _, r := range results {
		if !r.OK {
			t.Errorf("resume %s = %+v", r.Domain, r)
		}
	}
	if n := h.fs.nodeByName("r1"); n.State != store.StateRunning {
		t.Errorf("r1 state after resume = %s", n.State)
	}
	if h.fv.domains[r2] != "running" {
		t.Errorf("r2 domain state = %s", h.fv.domains[r2])
	}
}

func TestSuspendUnknownLab(t *testing.T) {
	h := newHarness(t)
	if _, err := h.engine.Suspend(context.Background(), "deadbeef"); err == nil {
		t.Fatal("expected not-found error")
	}
}
