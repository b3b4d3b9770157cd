package topo

import (
	"fmt"

	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// GrammarFunc resolves a model name to its interface grammar. The images
// catalog provides the production implementation.
type GrammarFunc func(model string) (ident.InterfaceGrammar, error)

// NodeExpanded is a manifest node with its index assigned and its model
// grammar resolved.
type NodeExpanded struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Version string `json:"version,omitempty"`
	// Index is the node's 1-based position in declaration order. Index 0
	// addresses the management ZTP server and is never assigned.
	Index    int `json:"index"`
	Memory   int `json:"memory,omitempty"`
	CPUCount int `json:"cpu_count,omitempty"`
}

// Endpoint is one fully resolved side of a link or bridge member.
type Endpoint struct {
	Node      string `json:"node"`
	NodeIndex int    `json:"node_index"`
	Model     string `json:"model"`
	Interface string `json:"interface"`
	IfIndex   int    `json:"if_index"`
}

// LinkDetailed is a compiled point-to-point edge.
type LinkDetailed struct {
	Index int            `json:"index"`
	Kind  store.LinkKind `json:"kind"`
	A     Endpoint       `json:"a"`
	B     Endpoint       `json:"b"`
}

// BridgeDetailed is a compiled shared segment.
type BridgeDetailed struct {
	Index   int        `json:"index"`
	Name    string     `json:"name"`
	Members []Endpoint `json:"members"`
}

// Topology is the compiled form of a manifest.
type Topology struct {
	Name    string           `json:"name"`
	Nodes   []NodeExpanded   `json:"nodes"`
	Links   []LinkDetailed   `json:"links,omitempty"`
	Bridges []BridgeDetailed `json:"bridges,omitempty"`
}

// Node returns the expanded node by name, or nil.
func (t *Topology) Node(name string) *NodeExpanded {
	for i := range t.Nodes {
		if t.Nodes[i].Name == name {
			return &t.Nodes[i]
		}
	}
	return nil
}

// Compile expands a manifest: indices assigned in declaration order,
// endpoints resolved through each model's grammar, and the static
// validators run. Deterministic for a given manifest and catalog.
func Compile(m *Manifest, grammar GrammarFunc) (*Topology, error) {
	if len(m.Nodes) == 0 {
		return nil, fmt.Errorf("manifest declares no nodes: %w", util.ErrValidationFailed)
	}
	if err := checkDuplicateDevice(m); err != nil {
		return nil, err
	}

	t := &Topology{Name: m.Name}
	byName := make(map[string]*NodeExpanded, len(m.Nodes))
	grammars := make(map[string]ident.InterfaceGrammar, len(m.Nodes))

	for i, mn := range m.Nodes {
		if err := util.ValidateResourceName("node", mn.Name); err != nil {
			return nil, err
		}
		g, err := grammar(mn.Model)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", mn.Name, err)
		}
		grammars[mn.Name] = g
		t.Nodes = append(t.Nodes, NodeExpanded{
			Name:     mn.Name,
			Model:    mn.Model,
			Version:  mn.Version,
			Index:    i + 1,
			Memory:   mn.Memory,
			CPUCount: mn.CPUCount,
		})
	}
	for i := range t.Nodes {
		byName[t.Nodes[i].Name] = &t.Nodes[i]
	}

	resolve := func(ref string) (Endpoint, error) {
		ep, err := splitEndpoint(ref)
		if err != nil {
			return Endpoint{}, err
		}
		node, ok := byName[ep.Node]
		if !ok {
			return Endpoint{}, fmt.Errorf("endpoint %s references unknown node %q: %w",
				ref, ep.Node, util.ErrValidationFailed)
		}
		g := grammars[ep.Node]
		idx, err := g.Index(ep.Interface)
		if err != nil {
			return Endpoint{}, fmt.Errorf("node %s: %w: %v", ep.Node, util.ErrValidationFailed, err)
		}
		return Endpoint{
			Node:      ep.Node,
			NodeIndex: node.Index,
			Model:     node.Model,
			// Aliases normalize to the grammar's full interface name.
			Interface: g.Name(idx),
			IfIndex:   idx,
		}, nil
	}

	for i, ml := range m.Links {
		kind, err := linkKind(ml.Kind)
		if err != nil {
			return nil, fmt.Errorf("link %d: %w", i, err)
		}
		a, err := resolve(ml.Src)
		if err != nil {
			return nil, fmt.Errorf("link %d src: %w", i, err)
		}
		b, err := resolve(ml.Dst)
		if err != nil {
			return nil, fmt.Errorf("link %d dst: %w", i, err)
		}
		t.Links = append(t.Links, LinkDetailed{Index: i, Kind: kind, A: a, B: b})
	}

	for i, mb := range m.Bridges {
		if err := util.ValidateResourceName("bridge", mb.Name); err != nil {
			return nil, err
		}
		if len(mb.Links) < 2 {
			return nil, fmt.Errorf("bridge %s needs at least two members: %w",
				mb.Name, util.ErrValidationFailed)
		}
		bd := BridgeDetailed{Index: i, Name: mb.Name}
		for _, ref := range mb.Links {
			ep, err := resolve(ref)
			if err != nil {
				return nil, fmt.Errorf("bridge %s: %w", mb.Name, err)
			}
			bd.Members = append(bd.Members, ep)
		}
		t.Bridges = append(t.Bridges, bd)
	}

	for _, check := range []func(*Topology, map[string]ident.InterfaceGrammar) error{
		checkDuplicateInterface,
		checkInterfaceBounds,
		checkMgmtUsage,
	} {
		if err := check(t, grammars); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func linkKind(s string) (store.LinkKind, error) {
	switch store.LinkKind(s) {
	case "":
		return store.LinkP2PVeth, nil
	case store.LinkP2PVeth, store.LinkP2PBridge, store.LinkP2PUDP:
		return store.LinkKind(s), nil
	case store.LinkSharedBridge:
		return "", fmt.Errorf("shared_bridge links are declared under [[bridges]]: %w", util.ErrValidationFailed)
	}
	return "", fmt.Errorf("unknown link kind %q: %w", s, util.ErrValidationFailed)
}
