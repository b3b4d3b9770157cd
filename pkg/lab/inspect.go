package lab

import (
	"context"
	"time"

	"github.com/sherpa-network/sherpa/pkg/store"
)

// LabSummary is one row of a lab listing.
type LabSummary struct {
	LabID     string `json:"lab_id"`
	Name      string `json:"name"`
	Owner     string `json:"owner"`
	Nodes     int    `json:"nodes"`
	CreatedAt string `json:"created_at"`
}

// LinkStatus is one link row of an inspection.
type LinkStatus struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	A     string `json:"a"`
	B     string `json:"b"`
}

// BridgeStatus is one shared segment of an inspection.
type BridgeStatus struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// LabDetail is the full state of one lab.
type LabDetail struct {
	LabID           string         `json:"lab_id"`
	Name            string         `json:"name"`
	Owner           string         `json:"owner"`
	LoopbackNetwork string         `json:"loopback_network"`
	MgmtNetwork     string         `json:"mgmt_network"`
	CreatedAt       string         `json:"created_at"`
	Nodes           []NodeStatus   `json:"nodes"`
	Links           []LinkStatus   `json:"links,omitempty"`
	Bridges         []BridgeStatus `json:"bridges,omitempty"`
}

// List returns lab summaries: the owner's labs, or every lab when all is
// set (the admin view).
func (e *Engine) List(ctx context.Context, owner string, all bool) ([]LabSummary, error) {
	var labs []*store.Lab
	var err error
	if all {
		labs, err = e.db.ListLabs(ctx)
	} else {
		labs, err = e.db.ListLabsByOwner(ctx, owner)
	}
	if err != nil {
		return nil, err
	}

	summaries := make([]LabSummary, 0, len(labs))
	for _, lab := range labs {
		nodes, err := e.db.ListNodesByLab(ctx, lab.ID)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, LabSummary{
			LabID:     lab.LabID,
			Name:      lab.Name,
			Owner:     lab.Owner,
			Nodes:     len(nodes),
			CreatedAt: lab.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return summaries, nil
}

// Owner resolves a lab's owning username, for authorization checks.
func (e *Engine) Owner(ctx context.Context, labID string) (string, error) {
	lab, err := e.db.GetLabByLabID(ctx, labID)
	if err != nil {
		return "", err
	}
	return lab.Owner, nil
}

// Inspect returns everything persisted about one lab.
func (e *Engine) Inspect(ctx context.Context, labID string) (*LabDetail, error) {
	lab, err := e.db.GetLabByLabID(ctx, labID)
	if err != nil {
		return nil, err
	}

	detail := &LabDetail{
		LabID:           lab.LabID,
		Name:            lab.Name,
		Owner:           lab.Owner,
		LoopbackNetwork: lab.LoopbackNetwork,
		MgmtNetwork:     lab.MgmtNetwork,
		CreatedAt:       lab.CreatedAt.UTC().Format(time.RFC3339),
	}

	nodes, err := e.db.ListNodesByLab(ctx, lab.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		model := ""
		if img, err := e.db.GetImageByID(ctx, n.Image); err == nil {
			model = img.Model
		}
		detail.Nodes = append(detail.Nodes, NodeStatus{
			Name:     n.Name,
			Model:    model,
			State:    string(n.State),
			MgmtIPv4: n.MgmtIPv4,
		})
	}

	links, err := e.db.ListLinksByLab(ctx, lab.ID)
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		ls := LinkStatus{Index: l.Index, Kind: string(l.Kind)}
		if n := byID[l.NodeA]; n != nil {
			ls.A = n.Name + "::" + l.IntA
		}
		if n := byID[l.NodeB]; n != nil {
			ls.B = n.Name + "::" + l.IntB
		}
		detail.Links = append(detail.Links, ls)
	}

	bridges, err := e.db.ListBridgesByLab(ctx, lab.ID)
	if err != nil {
		return nil, err
	}
	for _, b := range bridges {
		bs := BridgeStatus{Name: b.NetworkName}
		for _, id := range b.Nodes {
			if n := byID[id]; n != nil {
				bs.Members = append(bs.Members, n.Name)
			}
		}
		detail.Bridges = append(detail.Bridges, bs)
	}
	return detail, nil
}
