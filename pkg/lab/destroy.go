package lab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// DestroyError is one failed teardown step.
type DestroyError struct {
	Step     string `json:"step"`
	Resource string `json:"resource,omitempty"`
	Message  string `json:"message"`
}

// DestroySummary is the ledger of a teardown. Success is true only when
// every step succeeded.
type DestroySummary struct {
	LabID   string         `json:"lab_id"`
	Success bool           `json:"success"`
	Removed []string       `json:"removed,omitempty"`
	Failed  []DestroyError `json:"failed,omitempty"`
}

func (s *DestroySummary) ok(step, resource string) {
	s.Removed = append(s.Removed, step+" "+resource)
}

func (s *DestroySummary) fail(step, resource string, err error) {
	s.Success = false
	s.Failed = append(s.Failed, DestroyError{Step: step, Resource: resource, Message: err.Error()})
}

// teardownPrefixes are the host-interface roles destroy reaps directly.
// The veb side of each veth pair dies with its vea peer.
var teardownPrefixes = []string{"vea", "bra", "brb", "bs"}

// Destroy tears a lab down in reverse bring-up order. Every step is
// best-effort: failures are recorded and the walk continues, so repeated
// destroys converge on a clean host.
func (e *Engine) Destroy(ctx context.Context, labID string) (*DestroySummary, error) {
	summary := &DestroySummary{LabID: labID, Success: true}
	log := util.WithLab(labID)

	// Containers first: they hold the docker networks open.
	containers, err := e.docker.ContainerListFuzzy(ctx, labID)
	if err != nil {
		summary.fail("container", "", err)
	}
	for _, c := range containers {
		if c.State == "running" {
			if err := e.docker.ContainerKill(ctx, c.Name); err != nil {
				summary.fail("container", c.Name, err)
			}
		}
		if err := e.docker.ContainerRemove(ctx, c.Name); err != nil {
			summary.fail("container", c.Name, err)
			continue
		}
		summary.ok("container", c.Name)
	}

	// Domains and their pool volumes.
	domains, err := e.virt.ListDomainsFuzzy(labID)
	if err != nil {
		summary.fail("domain", "", err)
	}
	for _, dom := range domains {
		if err := e.virt.Undefine(dom.Name); err != nil {
			summary.fail("domain", dom.Name, err)
			continue
		}
		summary.ok("domain", dom.Name)
	}
	if len(domains) > 0 {
		deleted, err := e.virt.DeleteVolumesByPrefix(e.cfg.StoragePool, labID+"-")
		if err != nil {
			summary.fail("volume", "", err)
		}
		for _, vol := range deleted {
			summary.ok("volume", vol)
		}
	}

	// Host interfaces owned by the lab.
	ifaces, err := e.hostnet.FindFuzzy(labID)
	if err != nil {
		summary.fail("interface", "", err)
	}
	for _, name := range ifaces {
		if !reapable(name) {
			continue
		}
		if err := e.hostnet.InterfaceDelete(name); err != nil {
			summary.fail("interface", name, err)
			continue
		}
		summary.ok("interface", name)
	}

	// Docker networks.
	dnets, err := e.docker.NetworkListFuzzy(ctx, labID)
	if err != nil {
		summary.fail("docker-network", "", err)
	}
	for _, name := range dnets {
		if err := e.docker.NetworkRemove(ctx, name); err != nil {
			summary.fail("docker-network", name, err)
			continue
		}
		summary.ok("docker-network", name)
	}

	// Libvirt networks.
	vnets, err := e.virt.ListNetworksFuzzy(labID)
	if err != nil {
		summary.fail("network", "", err)
	}
	for _, name := range vnets {
		if err := e.virt.DestroyNetwork(name); err != nil {
			summary.fail("network", name, err)
			continue
		}
		summary.ok("network", name)
	}

	// Database rows, then the lab directory.
	if err := e.db.DeleteLabCascade(ctx, labID); err != nil {
		if !errors.Is(err, util.ErrNotFound) {
			summary.fail("record", labID, err)
		}
	} else {
		summary.ok("record", labID)
	}
	dir := e.cfg.LabDir(labID)
	if _, err := os.Lstat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			summary.fail("directory", dir, err)
		} else {
			summary.ok("directory", dir)
		}
	} else if !os.IsNotExist(err) {
		summary.fail("directory", dir, err)
	}

	if summary.Success {
		log.Info("lab destroyed")
	} else {
		log.Warnf("lab destroyed with %d failures", len(summary.Failed))
	}
	return summary, nil
}

func reapable(iface string) bool {
	for _, p := range teardownPrefixes {
		if strings.HasPrefix(iface, p) {
			return true
		}
	}
	return false
}

// VmActionResult is the outcome of one domain in a suspend/resume batch.
type VmActionResult struct {
	Domain string `json:"domain"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Suspend pauses every running domain of a lab. One domain in the wrong
// state never fails the batch; it is reported in its own result.
func (e *Engine) Suspend(ctx context.Context, labID string) ([]VmActionResult, error) {
	return e.vmBatch(ctx, labID, "suspend")
}

// Resume unpauses every paused domain of a lab.
func (e *Engine) Resume(ctx context.Context, labID string) ([]VmActionResult, error) {
	return e.vmBatch(ctx, labID, "resume")
}

func (e *Engine) vmBatch(ctx context.Context, labID, action string) ([]VmActionResult, error) {
	lab, err := e.db.GetLabByLabID(ctx, labID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.db.ListNodesByLab(ctx, lab.ID)
	if err != nil {
		return nil, err
	}
	byDomain := make(map[string]*store.Node, len(nodes))
	for _, n := range nodes {
		byDomain[n.Name+"-"+labID] = n
	}

	domains, err := e.virt.ListDomainsFuzzy(labID)
	if err != nil {
		return nil, err
	}

	var results []VmActionResult
	for _, dom := range domains {
		res := VmActionResult{Domain: dom.Name, Action: action}
		var want store.NodeState
		switch action {
		case "suspend":
			if dom.State != "running" {
				res.Detail = fmt.Sprintf("skipped: domain is %s", dom.State)
				results = append(results, res)
				continue
			}
			err = e.virt.Suspend(dom.Name)
			want = store.StatePaused
		case "resume":
			if dom.State != "paused" {
				res.Detail = fmt.Sprintf("skipped: domain is %s", dom.State)
				results = append(results, res)
				continue
			}
			err = e.virt.Resume(dom.Name)
			want = store.StateRunning
		}
		if err != nil {
			res.Detail = err.Error()
			results = append(results, res)
			continue
		}
		res.OK = true
		if n := byDomain[dom.Name]; n != nil {
			if serr := e.db.SetNodeState(ctx, n.ID, want); serr != nil {
				util.WithLab(labID).Warnf("%s state not recorded for %s: %v", action, n.Name, serr)
			}
		}
		results = append(results, res)
	}
	return results, nil
}
