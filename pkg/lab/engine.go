// Package lab orchestrates the lifecycle of a deployed topology: the
// phased bring-up pipeline, the reverse teardown, and the suspend/resume
// batch operations. The engine drives the persistence store and the three
// external subsystems (libvirt, Docker, kernel networking) through small
// adapter interfaces so the pipeline logic can be tested against fakes.
package lab

import (
	"context"
	"net"

	"github.com/sherpa-network/sherpa/pkg/config"
	"github.com/sherpa-network/sherpa/pkg/docker"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/virt"
)

// Datastore is the slice of the persistence store the engine drives.
type Datastore interface {
	CreateLab(ctx context.Context, lab *store.Lab) (*store.Lab, error)
	GetLabByLabID(ctx context.Context, labID string) (*store.Lab, error)
	ListLabs(ctx context.Context) ([]*store.Lab, error)
	ListLabsByOwner(ctx context.Context, owner string) ([]*store.Lab, error)
	UsedNetworks(ctx context.Context) (loopbacks, mgmt []*net.IPNet, err error)
	DeleteLabCascade(ctx context.Context, labID string) error

	CreateNode(ctx context.Context, n *store.Node) (*store.Node, error)
	ListNodesByLab(ctx context.Context, labRecID string) ([]*store.Node, error)
	SetNodeState(ctx context.Context, id string, state store.NodeState) error
	SetNodeMgmtIP(ctx context.Context, id, addr string) error

	CreateLink(ctx context.Context, l *store.Link) (*store.Link, error)
	ListLinksByLab(ctx context.Context, labRecID string) ([]*store.Link, error)

	CreateBridge(ctx context.Context, b *store.Bridge) (*store.Bridge, error)
	ListBridgesByLab(ctx context.Context, labRecID string) ([]*store.Bridge, error)

	GetImageByID(ctx context.Context, id string) (*store.NodeImage, error)
}

// ImageLibrary resolves image rows and locates their disk assets.
type ImageLibrary interface {
	Resolve(ctx context.Context, model, version string) (*store.NodeImage, error)
	DiskPath(img *store.NodeImage) string
}

// Virt is the virtualization adapter surface the engine uses.
type Virt interface {
	EnsurePool(name, path string) error
	UploadVolume(pool, vol, srcPath string) error
	DeleteVolumesByPrefix(pool, prefix string) ([]string, error)

	CreateNetwork(spec virt.NetworkSpec) error
	DestroyNetwork(name string) error
	ListNetworksFuzzy(substring string) ([]string, error)

	DefineAndStart(xml string) error
	Suspend(name string) error
	Resume(name string) error
	Undefine(name string) error
	ListDomainsFuzzy(substring string) ([]virt.DomainInfo, error)
	ManagementIP(name string) (string, error)
}

// Containers is the Docker adapter surface the engine uses.
type Containers interface {
	NetworkCreateBridge(ctx context.Context, name, subnet, bridge string) (string, error)
	NetworkCreateMACVLAN(ctx context.Context, name, parent, subnet string) (string, error)
	NetworkRemove(ctx context.Context, name string) error
	NetworkListFuzzy(ctx context.Context, substring string) ([]string, error)

	ImagePresent(ctx context.Context, repo, tag string) (bool, error)

	ContainerRun(ctx context.Context, spec docker.ContainerSpec) (string, error)
	ContainerKill(ctx context.Context, name string) error
	ContainerRemove(ctx context.Context, name string) error
	ContainerListFuzzy(ctx context.Context, substring string) ([]docker.ContainerInfo, error)
	ContainerIP(ctx context.Context, name, network string) (string, error)
}

// HostNet is the kernel-networking adapter surface the engine uses.
type HostNet interface {
	BridgeCreate(name string) error
	VethCreate(a, b string) error
	SetMaster(iface, bridge string) error
	InterfaceDelete(name string) error
	FindFuzzy(substring string) ([]string, error)
}

// Engine runs the lab lifecycle.
type Engine struct {
	db      Datastore
	library ImageLibrary
	virt    Virt
	docker  Containers
	hostnet HostNet
	cfg     *config.Config
}

// New wires an engine over its subsystems.
func New(db Datastore, library ImageLibrary, v Virt, d Containers, h HostNet, cfg *config.Config) *Engine {
	return &Engine{db: db, library: library, virt: v, docker: d, hostnet: h, cfg: cfg}
}

// TotalPhases is the constant number of bring-up phases.
const TotalPhases = 9

// Progress is one phase-boundary event of a lifecycle operation.
type Progress struct {
	Phase       string `json:"current_phase"`
	PhaseNumber int    `json:"phase_number"`
	TotalPhases int    `json:"total_phases"`
	Message     string `json:"message"`
}

// ProgressSender receives phase events. Send errors are advisory: the
// engine keeps working when the receiver has gone away so partial state
// still lands in the store.
type ProgressSender interface {
	Send(p Progress) error
}

// ProgressFunc adapts a function to ProgressSender.
type ProgressFunc func(p Progress) error

// Send implements ProgressSender.
func (f ProgressFunc) Send(p Progress) error { return f(p) }

func (e *Engine) phase(send ProgressSender, number int, name, message string) {
	if send == nil {
		return
	}
	_ = send.Send(Progress{
		Phase:       name,
		PhaseNumber: number,
		TotalPhases: TotalPhases,
		Message:     message,
	})
}
