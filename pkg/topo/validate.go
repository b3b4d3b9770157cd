package topo

import (
	"fmt"

	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// checkDuplicateDevice rejects manifests that declare a node name twice.
// Runs on the raw manifest so the message cites the user's input.
func checkDuplicateDevice(m *Manifest) error {
	seen := make(map[string]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		if seen[n.Name] {
			return fmt.Errorf("node %s defined more than once: %w", n.Name, util.ErrValidationFailed)
		}
		seen[n.Name] = true
	}
	return nil
}

// checkDuplicateInterface rejects a (node, interface) pair used by two
// links, or by a link and a bridge member.
func checkDuplicateInterface(t *Topology, _ map[string]ident.InterfaceGrammar) error {
	used := make(map[string]string) // node|ifindex -> where
	claim := func(ep Endpoint, where string) error {
		key := fmt.Sprintf("%s|%d", ep.Node, ep.IfIndex)
		if prev, ok := used[key]; ok {
			return fmt.Errorf("interface %s on node %s used by both %s and %s: %w",
				ep.Interface, ep.Node, prev, where, util.ErrValidationFailed)
		}
		used[key] = where
		return nil
	}

	for _, l := range t.Links {
		where := fmt.Sprintf("link %d", l.Index)
		if err := claim(l.A, where); err != nil {
			return err
		}
		if err := claim(l.B, where); err != nil {
			return err
		}
	}
	for _, b := range t.Bridges {
		for _, ep := range b.Members {
			if err := claim(ep, "bridge "+b.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkInterfaceBounds enforces the per-model usable index range: models
// with a dedicated management port expose [1, data]; the rest may also use
// the reserved range.
func checkInterfaceBounds(t *Topology, grammars map[string]ident.InterfaceGrammar) error {
	check := func(ep Endpoint) error {
		g := grammars[ep.Node]
		if ep.IfIndex > g.MaxIndex() {
			return fmt.Errorf("interface %s on node %s resolves to index %d, above the model's maximum %d: %w",
				ep.Interface, ep.Node, ep.IfIndex, g.MaxIndex(), util.ErrValidationFailed)
		}
		return nil
	}
	return eachEndpoint(t, check)
}

// checkMgmtUsage keeps the management interface (index 0) off data links.
func checkMgmtUsage(t *Topology, grammars map[string]ident.InterfaceGrammar) error {
	check := func(ep Endpoint) error {
		if ep.IfIndex == 0 {
			g := grammars[ep.Node]
			return fmt.Errorf("interface %s on node %s is the management interface and cannot carry a data link: %w",
				g.ManagementInterface(), ep.Node, util.ErrValidationFailed)
		}
		return nil
	}
	return eachEndpoint(t, check)
}

func eachEndpoint(t *Topology, fn func(Endpoint) error) error {
	for _, l := range t.Links {
		if err := fn(l.A); err != nil {
			return err
		}
		if err := fn(l.B); err != nil {
			return err
		}
	}
	for _, b := range t.Bridges {
		for _, ep := range b.Members {
			if err := fn(ep); err != nil {
				return err
			}
		}
	}
	return nil
}
