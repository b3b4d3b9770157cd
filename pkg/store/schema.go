// Package store persists labs, nodes, links, bridges, node images, and
// users in Redis. The schema rules the database itself cannot express —
// unique indexes, referential integrity, cascade and reject deletes,
// immutable fields — are enforced here, inside optimistic transactions over
// the index keys they touch.
package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// ImageKind classifies how a node image boots.
type ImageKind string

const (
	KindVirtualMachine ImageKind = "virtual_machine"
	KindContainer      ImageKind = "container"
	KindUnikernel      ImageKind = "unikernel"
)

// ParseImageKind validates and converts a stored kind string.
func ParseImageKind(s string) (ImageKind, error) {
	switch ImageKind(s) {
	case KindVirtualMachine, KindContainer, KindUnikernel:
		return ImageKind(s), nil
	}
	return "", fmt.Errorf("unknown image kind %q: %w", s, util.ErrValidationFailed)
}

// NodeState is the lifecycle state of a node.
type NodeState string

const (
	StateUnknown   NodeState = "unknown"
	StateCreating  NodeState = "creating"
	StateRunning   NodeState = "running"
	StatePaused    NodeState = "paused"
	StateStopped   NodeState = "stopped"
	StateDestroyed NodeState = "destroyed"
	StateFailed    NodeState = "failed"
)

// nodeTransitions is the edge set of the node lifecycle.
var nodeTransitions = map[NodeState][]NodeState{
	StateUnknown:  {StateCreating, StateDestroyed},
	StateCreating: {StateRunning, StateFailed},
	StateRunning:  {StatePaused, StateStopped},
	StatePaused:   {StateRunning, StateStopped},
	StateStopped:  {StateDestroyed},
}

// ValidTransition reports whether a node may move from one state to another.
// Same-state writes are always allowed.
func ValidTransition(from, to NodeState) bool {
	if from == to {
		return true
	}
	for _, next := range nodeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LinkKind is the wiring strategy for a point-to-point or shared segment.
type LinkKind string

const (
	LinkP2PBridge    LinkKind = "p2p_bridge"
	LinkP2PUDP       LinkKind = "p2p_udp"
	LinkP2PVeth      LinkKind = "p2p_veth"
	LinkSharedBridge LinkKind = "shared_bridge"
)

// ZTPMethod selects the first-boot configuration channel for a model.
type ZTPMethod string

const (
	ZTPCloudInit   ZTPMethod = "cloud_init"
	ZTPIgnition    ZTPMethod = "ignition"
	ZTPVendorFlash ZTPMethod = "vendor_flash"
	ZTPNone        ZTPMethod = "none"
)

// User owns labs. Usernames are unique and at least three characters.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsAdmin      bool
	SSHKeys      []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NodeImage describes a (model, kind, version) image plus the hardware
// shape domains built from it inherit. At most one row per (model, kind)
// carries Default.
type NodeImage struct {
	ID                     string
	Model                  string
	Kind                   ImageKind
	Version                string
	Default                bool
	CPUCount               int
	MemoryMiB              int
	InterfaceMTU           int
	DataInterfaceCount     int
	ReservedInterfaceCount int
	DedicatedManagement    bool
	InterfacePrefix        string
	OSVariant              string
	BiosType               string
	MachineType            string
	ZTPMethod              ZTPMethod
	// ContainerImage is the docker reference for container kinds; empty
	// for disk-image kinds.
	ContainerImage string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Key is the natural key of the image row.
func (img *NodeImage) Key() string {
	return imageKey(img.Model, img.Kind, img.Version)
}

func imageKey(model string, kind ImageKind, version string) string {
	return model + "|" + string(kind) + "|" + version
}

func imageDefaultKey(model string, kind ImageKind) string {
	return model + "|" + string(kind)
}

// Lab is one deployed manifest. LabID is the deterministic 8-hex-digit
// identifier; Owner is the owning username and is immutable.
type Lab struct {
	ID              string
	LabID           string
	Name            string
	Owner           string
	LoopbackNetwork string
	MgmtNetwork     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Node is one device in a lab. Index is unique per lab and starts at 1;
// index 0 addresses the management network's DHCP/ZTP server.
type Node struct {
	ID        string
	Name      string
	Index     int
	Image     string
	Lab       string
	MgmtIPv4  string
	State     NodeState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Link is a point-to-point edge between two node interfaces. Lab, NodeA,
// and NodeB are immutable after creation.
type Link struct {
	ID        string
	Index     int
	Kind      LinkKind
	Lab       string
	NodeA     string
	NodeB     string
	IntA      string
	IntB      string
	IntAIdx   int
	IntBIdx   int
	BridgeA   string
	BridgeB   string
	VethA     string
	VethB     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *Link) key() string {
	return l.NodeA + "|" + l.NodeB + "|" + l.IntA + "|" + l.IntB
}

// Bridge is a multi-point L2 segment attaching two or more nodes.
type Bridge struct {
	ID          string
	Index       int
	BridgeName  string
	NetworkName string
	Lab         string
	Nodes       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ============================================================
// Hash field codecs
// ============================================================

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseBool(s string) bool {
	return s == "true"
}

func marshalList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func parseList(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil
	}
	return items
}

func (u *User) fields() map[string]interface{} {
	return map[string]interface{}{
		"username":      u.Username,
		"password_hash": u.PasswordHash,
		"is_admin":      strconv.FormatBool(u.IsAdmin),
		"ssh_keys":      marshalList(u.SSHKeys),
		"created_at":    formatTime(u.CreatedAt),
		"updated_at":    formatTime(u.UpdatedAt),
	}
}

func parseUser(id string, vals map[string]string) *User {
	return &User{
		ID:           id,
		Username:     vals["username"],
		PasswordHash: vals["password_hash"],
		IsAdmin:      parseBool(vals["is_admin"]),
		SSHKeys:      parseList(vals["ssh_keys"]),
		CreatedAt:    parseTime(vals["created_at"]),
		UpdatedAt:    parseTime(vals["updated_at"]),
	}
}

func (img *NodeImage) fields() map[string]interface{} {
	return map[string]interface{}{
		"model":                    img.Model,
		"kind":                     string(img.Kind),
		"version":                  img.Version,
		"default":                  strconv.FormatBool(img.Default),
		"cpu_count":                strconv.Itoa(img.CPUCount),
		"memory_mib":               strconv.Itoa(img.MemoryMiB),
		"interface_mtu":            strconv.Itoa(img.InterfaceMTU),
		"data_interface_count":     strconv.Itoa(img.DataInterfaceCount),
		"reserved_interface_count": strconv.Itoa(img.ReservedInterfaceCount),
		"dedicated_management":     strconv.FormatBool(img.DedicatedManagement),
		"interface_prefix":         img.InterfacePrefix,
		"os_variant":               img.OSVariant,
		"bios_type":                img.BiosType,
		"machine_type":             img.MachineType,
		"ztp_method":               string(img.ZTPMethod),
		"container_image":          img.ContainerImage,
		"created_at":               formatTime(img.CreatedAt),
		"updated_at":               formatTime(img.UpdatedAt),
	}
}

func parseNodeImage(id string, vals map[string]string) *NodeImage {
	return &NodeImage{
		ID:                     id,
		Model:                  vals["model"],
		Kind:                   ImageKind(vals["kind"]),
		Version:                vals["version"],
		Default:                parseBool(vals["default"]),
		CPUCount:               parseInt(vals["cpu_count"]),
		MemoryMiB:              parseInt(vals["memory_mib"]),
		InterfaceMTU:           parseInt(vals["interface_mtu"]),
		DataInterfaceCount:     parseInt(vals["data_interface_count"]),
		ReservedInterfaceCount: parseInt(vals["reserved_interface_count"]),
		DedicatedManagement:    parseBool(vals["dedicated_management"]),
		InterfacePrefix:        vals["interface_prefix"],
		OSVariant:              vals["os_variant"],
		BiosType:               vals["bios_type"],
		MachineType:            vals["machine_type"],
		ZTPMethod:              ZTPMethod(vals["ztp_method"]),
		ContainerImage:         vals["container_image"],
		CreatedAt:              parseTime(vals["created_at"]),
		UpdatedAt:              parseTime(vals["updated_at"]),
	}
}

func (l *Lab) fields() map[string]interface{} {
	return map[string]interface{}{
		"lab_id":           l.LabID,
		"name":             l.Name,
		"owner":            l.Owner,
		"loopback_network": l.LoopbackNetwork,
		"mgmt_network":     l.MgmtNetwork,
		"created_at":       formatTime(l.CreatedAt),
		"updated_at":       formatTime(l.UpdatedAt),
	}
}

func parseLab(id string, vals map[string]string) *Lab {
	return &Lab{
		ID:              id,
		LabID:           vals["lab_id"],
		Name:            vals["name"],
		Owner:           vals["owner"],
		LoopbackNetwork: vals["loopback_network"],
		MgmtNetwork:     vals["mgmt_network"],
		CreatedAt:       parseTime(vals["created_at"]),
		UpdatedAt:       parseTime(vals["updated_at"]),
	}
}

func (n *Node) fields() map[string]interface{} {
	return map[string]interface{}{
		"name":       n.Name,
		"index":      strconv.Itoa(n.Index),
		"image":      n.Image,
		"lab":        n.Lab,
		"mgmt_ipv4":  n.MgmtIPv4,
		"state":      string(n.State),
		"created_at": formatTime(n.CreatedAt),
		"updated_at": formatTime(n.UpdatedAt),
	}
}

func parseNode(id string, vals map[string]string) *Node {
	return &Node{
		ID:        id,
		Name:      vals["name"],
		Index:     parseInt(vals["index"]),
		Image:     vals["image"],
		Lab:       vals["lab"],
		MgmtIPv4:  vals["mgmt_ipv4"],
		State:     NodeState(vals["state"]),
		CreatedAt: parseTime(vals["created_at"]),
		UpdatedAt: parseTime(vals["updated_at"]),
	}
}

func (l *Link) fields() map[string]interface{} {
	return map[string]interface{}{
		"index":      strconv.Itoa(l.Index),
		"kind":       string(l.Kind),
		"lab":        l.Lab,
		"node_a":     l.NodeA,
		"node_b":     l.NodeB,
		"int_a":      l.IntA,
		"int_b":      l.IntB,
		"int_a_idx":  strconv.Itoa(l.IntAIdx),
		"int_b_idx":  strconv.Itoa(l.IntBIdx),
		"bridge_a":   l.BridgeA,
		"bridge_b":   l.BridgeB,
		"veth_a":     l.VethA,
		"veth_b":     l.VethB,
		"created_at": formatTime(l.CreatedAt),
		"updated_at": formatTime(l.UpdatedAt),
	}
}

func parseLink(id string, vals map[string]string) *Link {
	return &Link{
		ID:        id,
		Index:     parseInt(vals["index"]),
		Kind:      LinkKind(vals["kind"]),
		Lab:       vals["lab"],
		NodeA:     vals["node_a"],
		NodeB:     vals["node_b"],
		IntA:      vals["int_a"],
		IntB:      vals["int_b"],
		IntAIdx:   parseInt(vals["int_a_idx"]),
		IntBIdx:   parseInt(vals["int_b_idx"]),
		BridgeA:   vals["bridge_a"],
		BridgeB:   vals["bridge_b"],
		VethA:     vals["veth_a"],
		VethB:     vals["veth_b"],
		CreatedAt: parseTime(vals["created_at"]),
		UpdatedAt: parseTime(vals["updated_at"]),
	}
}

func (b *Bridge) fields() map[string]interface{} {
	return map[string]interface{}{
		"index":        strconv.Itoa(b.Index),
		"bridge_name":  b.BridgeName,
		"network_name": b.NetworkName,
		"lab":          b.Lab,
		"nodes":        marshalList(b.Nodes),
		"created_at":   formatTime(b.CreatedAt),
		"updated_at":   formatTime(b.UpdatedAt),
	}
}

func parseBridge(id string, vals map[string]string) *Bridge {
	return &Bridge{
		ID:          id,
		Index:       parseInt(vals["index"]),
		BridgeName:  vals["bridge_name"],
		NetworkName: vals["network_name"],
		Lab:         vals["lab"],
		Nodes:       parseList(vals["nodes"]),
		CreatedAt:   parseTime(vals["created_at"]),
		UpdatedAt:   parseTime(vals["updated_at"]),
	}
}
