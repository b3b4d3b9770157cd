package lab

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/sherpa-network/sherpa/pkg/docker"
	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/images"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/topo"
	"github.com/sherpa-network/sherpa/pkg/util"
	"github.com/sherpa-network/sherpa/pkg/virt"
	"github.com/sherpa-network/sherpa/pkg/ztp"
)

// UpError is one entry of the bring-up error ledger.
type UpError struct {
	Phase   string `json:"phase"`
	Node    string `json:"node,omitempty"`
	Message string `json:"message"`
}

// NodeStatus is the per-node outcome reported in summaries.
type NodeStatus struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	State    string `json:"state"`
	MgmtIPv4 string `json:"mgmt_ipv4,omitempty"`
}

// UpSummary is the final result of a bring-up.
type UpSummary struct {
	LabID   string       `json:"lab_id"`
	Name    string       `json:"name"`
	Owner   string       `json:"owner"`
	Success bool         `json:"success"`
	Nodes   []NodeStatus `json:"nodes"`
	Errors  []UpError    `json:"errors,omitempty"`
	Elapsed string       `json:"elapsed"`
}

// attachment is one resolved data-interface wiring: exactly one of the
// target fields applies to a VM NIC, dockerNet to a container endpoint.
type attachment struct {
	network   string
	bridge    string
	dockerNet string
	udp       *udpTunnel
}

type udpTunnel struct {
	localAddr  string
	remoteAddr string
	localPort  int
	remotePort int
}

// deployment is the working state of one bring-up.
type deployment struct {
	lab     *store.Lab
	topo    *topo.Topology
	builder *ztp.Builder
	loop    *net.IPNet

	images    map[string]*store.NodeImage
	nodes     map[string]*store.Node
	artifacts map[string]*ztp.Artifact
	// plan maps node name and interface index to the link resource behind
	// that slot. Slots absent from the plan attach to the reserved network.
	plan map[string]map[int]*attachment

	hasVM        bool
	hasContainer bool

	mu     sync.Mutex
	errs   []UpError
	failed map[string]bool
}

func (d *deployment) fail(phase, node string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs = append(d.errs, UpError{Phase: phase, Node: node, Message: err.Error()})
	if node != "" {
		d.failed[node] = true
	}
}

func (d *deployment) skipped(node string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failed[node]
}

func (d *deployment) attach(node string, ifIndex int, a *attachment) {
	if d.plan[node] == nil {
		d.plan[node] = make(map[int]*attachment)
	}
	d.plan[node][ifIndex] = a
}

// Up provisions a manifest for its owner. Phases 1-3 (compile, reserve,
// resolve) are atomic: a failure there leaves no trace. From phase 4 on
// the pipeline is best-effort and accumulates an error ledger; a failed
// node never halts its peers, and everything created is recorded so
// Destroy can reclaim it.
func (e *Engine) Up(ctx context.Context, manifestText string, owner *store.User, send ProgressSender) (*UpSummary, error) {
	start := time.Now()

	// Phase 1 — compile.
	e.phase(send, 1, "compile", "compiling manifest")
	m, err := topo.ParseManifest([]byte(manifestText))
	if err != nil {
		return nil, err
	}
	t, err := topo.Compile(m, images.Grammar)
	if err != nil {
		return nil, err
	}

	d := &deployment{
		topo:      t,
		images:    make(map[string]*store.NodeImage),
		nodes:     make(map[string]*store.Node),
		artifacts: make(map[string]*ztp.Artifact),
		plan:      make(map[string]map[int]*attachment),
		failed:    make(map[string]bool),
	}

	// Phase 2 — reserve identifiers and subnets.
	e.phase(send, 2, "reserve", "allocating lab networks")
	if err := e.reserve(ctx, d, owner); err != nil {
		return nil, err
	}
	labID := d.lab.LabID
	log := util.WithLab(labID)

	// Phase 3 — resolve images and persist the topology rows.
	e.phase(send, 3, "resolve images", "resolving node images")
	if err := e.resolve(ctx, d, owner); err != nil {
		// Phases 1-3 are atomic: take the lab row back out.
		if derr := e.db.DeleteLabCascade(ctx, labID); derr != nil {
			log.Warnf("rollback after resolve failure: %v", derr)
		}
		return nil, err
	}

	builder, err := ztp.NewBuilder(d.lab, owner, e.cfg.LabDir(labID))
	if err != nil {
		if derr := e.db.DeleteLabCascade(ctx, labID); derr != nil {
			log.Warnf("rollback after builder failure: %v", derr)
		}
		return nil, err
	}
	d.builder = builder

	log.Infof("lab %s reserved: loopback %s, management %s",
		d.lab.Name, d.lab.LoopbackNetwork, d.lab.MgmtNetwork)

	// Phase 4 — build ZTP artifacts.
	e.phase(send, 4, "build artifacts", "building provisioning payloads")
	e.buildArtifacts(d)

	// Phase 5 — host networking.
	e.phase(send, 5, "host networking", "creating lab networks and links")
	e.hostNetworking(ctx, d)

	// Phase 6 — storage.
	e.phase(send, 6, "storage", "cloning disks into the storage pool")
	e.storage(ctx, d)

	// Phase 7 — domains and containers.
	e.phase(send, 7, "domains", "starting domains and containers")
	e.launch(ctx, d)

	// Phase 8 — management settlement.
	e.phase(send, 8, "settlement", "waiting for management addresses")
	e.settle(ctx, d)

	// Phase 9 — lab directory finish.
	e.phase(send, 9, "finalize", "writing ssh_config and lab-info")
	e.finalize(ctx, d)

	summary := e.summarize(ctx, d)
	summary.Elapsed = time.Since(start).Round(time.Millisecond).String()
	if summary.Success {
		log.Infof("lab %s up in %s", d.lab.Name, summary.Elapsed)
	} else {
		log.Warnf("lab %s up finished with %d errors", d.lab.Name, len(summary.Errors))
	}
	return summary, nil
}

// reserve allocates the lab ID and subnets and inserts the lab row.
func (e *Engine) reserve(ctx context.Context, d *deployment, owner *store.User) error {
	labID := ident.LabID(owner.Username, d.topo.Name)

	usedLoop, usedMgmt, err := e.db.UsedNetworks(ctx)
	if err != nil {
		return err
	}
	loop, err := ident.AllocateLoopback(usedLoop)
	if err != nil {
		return err
	}
	_, prefix, err := net.ParseCIDR(e.cfg.ManagementPrefix)
	if err != nil {
		return fmt.Errorf("management prefix %q: %w", e.cfg.ManagementPrefix, util.ErrValidationFailed)
	}
	mgmt, err := ident.AllocateManagement(prefix, usedMgmt)
	if err != nil {
		return err
	}

	lab, err := e.db.CreateLab(ctx, &store.Lab{
		LabID:           labID,
		Name:            d.topo.Name,
		Owner:           owner.Username,
		LoopbackNetwork: loop.String(),
		MgmtNetwork:     mgmt.String(),
	})
	if err != nil {
		return err
	}
	d.lab = lab
	d.loop = loop
	return nil
}

// resolve looks up every node's image row, verifies container images are
// present locally, and persists node, link, and bridge rows with each node
// in the creating state.
func (e *Engine) resolve(ctx context.Context, d *deployment, owner *store.User) error {
	labID := d.lab.LabID

	for i := range d.topo.Nodes {
		tn := &d.topo.Nodes[i]
		img, err := e.library.Resolve(ctx, tn.Model, tn.Version)
		if err != nil {
			return err
		}
		if img.Kind == store.KindContainer {
			present, err := e.docker.ImagePresent(ctx, img.ContainerImage, img.Version)
			if err != nil {
				return err
			}
			if !present {
				return fmt.Errorf("container image %s not pulled: %w",
					images.ContainerReference(img), util.NewNotFoundError("image", tn.Model))
			}
			d.hasContainer = true
		} else {
			d.hasVM = true
		}
		d.images[tn.Name] = img

		node, err := e.db.CreateNode(ctx, &store.Node{
			Name:  tn.Name,
			Index: tn.Index,
			Image: img.ID,
			Lab:   d.lab.ID,
			State: store.StateCreating,
		})
		if err != nil {
			return err
		}
		d.nodes[tn.Name] = node
	}

	for _, tl := range d.topo.Links {
		row := &store.Link{
			Index:   tl.Index,
			Kind:    tl.Kind,
			Lab:     d.lab.ID,
			NodeA:   d.nodes[tl.A.Node].ID,
			NodeB:   d.nodes[tl.B.Node].ID,
			IntA:    tl.A.Interface,
			IntB:    tl.B.Interface,
			IntAIdx: tl.A.IfIndex,
			IntBIdx: tl.B.IfIndex,
		}
		switch tl.Kind {
		case store.LinkP2PVeth:
			row.BridgeA = ident.BridgeA(tl.Index, labID)
			row.BridgeB = ident.BridgeB(tl.Index, labID)
			row.VethA = ident.VethA(tl.Index, labID)
			row.VethB = ident.VethB(tl.Index, labID)
		case store.LinkP2PBridge:
			// One libvirt-managed segment serves both sides.
			row.BridgeA = ident.BridgeA(tl.Index, labID)
			row.BridgeB = row.BridgeA
		}
		if _, err := e.db.CreateLink(ctx, row); err != nil {
			return err
		}
	}

	for _, tb := range d.topo.Bridges {
		members := make([]string, 0, len(tb.Members))
		for _, ep := range tb.Members {
			members = append(members, d.nodes[ep.Node].ID)
		}
		if _, err := e.db.CreateBridge(ctx, &store.Bridge{
			Index:       tb.Index,
			BridgeName:  ident.SharedBridge(tb.Index, labID),
			NetworkName: ident.NetworkName(tb.Name, labID),
			Lab:         d.lab.ID,
			Nodes:       members,
		}); err != nil {
			return err
		}
	}
	return nil
}

// buildArtifacts renders each node's ZTP payload. A failed node is dropped
// from the storage and launch phases.
func (e *Engine) buildArtifacts(d *deployment) {
	for i := range d.topo.Nodes {
		tn := &d.topo.Nodes[i]
		art, err := d.builder.Build(tn, d.images[tn.Name])
		if err != nil {
			d.fail("build artifacts", tn.Name, err)
			continue
		}
		d.artifacts[tn.Name] = art
	}
}

// hostNetworking creates the management network and one set of host
// resources per link and shared bridge, recording each endpoint's
// attachment in the wiring plan.
func (e *Engine) hostNetworking(ctx context.Context, d *deployment) {
	labID := d.lab.LabID
	mgmtName := ident.ManagementNetwork(labID)
	_, mgmtNet, err := net.ParseCIDR(d.lab.MgmtNetwork)
	if err != nil {
		d.fail("host networking", "", fmt.Errorf("management network %q: %w", d.lab.MgmtNetwork, err))
		return
	}

	if d.hasVM {
		var hosts []virt.DHCPHost
		for i := range d.topo.Nodes {
			tn := &d.topo.Nodes[i]
			if d.images[tn.Name].Kind != store.KindContainer {
				hosts = append(hosts, virt.DHCPHost{
					MAC:  ident.NodeMAC(labID, tn.Index),
					IP:   d.builder.MgmtIP(tn.Index).String(),
					Name: tn.Name,
				})
			}
		}
		if err := e.virt.CreateNetwork(virt.NetworkSpec{
			Name:   mgmtName,
			Kind:   virt.NetworkManagement,
			Bridge: mgmtName,
			Subnet: mgmtNet,
			Hosts:  hosts,
		}); err != nil {
			d.fail("host networking", "", err)
		}
	}
	if d.hasContainer {
		// Containers share the VMs' management segment over macvlan; a
		// pure-container lab gets a plain docker bridge network instead.
		var err error
		if d.hasVM {
			_, err = e.docker.NetworkCreateMACVLAN(ctx, mgmtName, mgmtName, d.lab.MgmtNetwork)
		} else {
			_, err = e.docker.NetworkCreateBridge(ctx, mgmtName, d.lab.MgmtNetwork, mgmtName)
		}
		if err != nil {
			d.fail("host networking", "", err)
		}
	}

	for _, tl := range d.topo.Links {
		e.wireLink(ctx, d, tl)
	}
	for _, tb := range d.topo.Bridges {
		e.wireBridge(ctx, d, tb)
	}

	// Data interfaces the manifest left unwired park on a per-lab isolated
	// network so vendor images still see the NIC count they expect.
	if e.needsReserved(d) {
		if err := e.virt.CreateNetwork(virt.NetworkSpec{
			Name: ident.NetworkName("rsv", labID),
			Kind: virt.NetworkReserved,
		}); err != nil {
			d.fail("host networking", "", err)
		}
	}
}

func (e *Engine) wireLink(ctx context.Context, d *deployment, tl topo.LinkDetailed) {
	labID := d.lab.LabID
	linkName := fmt.Sprintf("link %d (%s::%s <-> %s::%s)",
		tl.Index, tl.A.Node, tl.A.Interface, tl.B.Node, tl.B.Interface)
	aContainer := d.images[tl.A.Node].Kind == store.KindContainer
	bContainer := d.images[tl.B.Node].Kind == store.KindContainer

	switch tl.Kind {
	case store.LinkP2PVeth:
		// Two kernel bridges cross-connected by a veth pair; each endpoint
		// attaches to its own side so per-side qdisc/captures stay possible.
		braName := ident.BridgeA(tl.Index, labID)
		brbName := ident.BridgeB(tl.Index, labID)
		veaName := ident.VethA(tl.Index, labID)
		vebName := ident.VethB(tl.Index, labID)
		for _, step := range []func() error{
			func() error { return e.hostnet.BridgeCreate(braName) },
			func() error { return e.hostnet.BridgeCreate(brbName) },
			func() error { return e.hostnet.VethCreate(veaName, vebName) },
			func() error { return e.hostnet.SetMaster(veaName, braName) },
			func() error { return e.hostnet.SetMaster(vebName, brbName) },
		} {
			if err := step(); err != nil {
				d.fail("host networking", "", fmt.Errorf("%s: %w", linkName, err))
				return
			}
		}
		a := &attachment{bridge: braName}
		b := &attachment{bridge: brbName}
		if aContainer {
			a.dockerNet = e.macvlanFor(ctx, d, braName)
		}
		if bContainer {
			b.dockerNet = e.macvlanFor(ctx, d, brbName)
		}
		d.attach(tl.A.Node, tl.A.IfIndex, a)
		d.attach(tl.B.Node, tl.B.IfIndex, b)

	case store.LinkP2PBridge:
		// One isolated libvirt network; libvirt owns the backing bridge.
		name := ident.BridgeA(tl.Index, labID)
		if err := e.virt.CreateNetwork(virt.NetworkSpec{
			Name:   name,
			Kind:   virt.NetworkIsolated,
			Bridge: name,
		}); err != nil {
			d.fail("host networking", "", fmt.Errorf("%s: %w", linkName, err))
			return
		}
		a := &attachment{network: name, bridge: name}
		b := &attachment{network: name, bridge: name}
		if aContainer {
			a.dockerNet = e.macvlanFor(ctx, d, name)
		}
		if bContainer {
			b.dockerNet = e.macvlanFor(ctx, d, name)
		}
		d.attach(tl.A.Node, tl.A.IfIndex, a)
		d.attach(tl.B.Node, tl.B.IfIndex, b)

	case store.LinkP2PUDP:
		if aContainer || bContainer {
			d.fail("host networking", "",
				fmt.Errorf("%s: p2p_udp links require virtual machine endpoints: %w",
					linkName, util.ErrValidationFailed))
			return
		}
		// Both tunnel ends ride the lab's loopback /30; ports are paired
		// off the configured base by link index.
		aAddr := util.NthIP(d.loop, 1).String()
		bAddr := util.NthIP(d.loop, 2).String()
		aPort := ident.UDPPortA(e.cfg.UDPPortBase, tl.Index)
		bPort := ident.UDPPortB(e.cfg.UDPPortBase, tl.Index)
		d.attach(tl.A.Node, tl.A.IfIndex, &attachment{udp: &udpTunnel{
			localAddr: aAddr, localPort: aPort, remoteAddr: bAddr, remotePort: bPort,
		}})
		d.attach(tl.B.Node, tl.B.IfIndex, &attachment{udp: &udpTunnel{
			localAddr: bAddr, localPort: bPort, remoteAddr: aAddr, remotePort: aPort,
		}})
	}
}

func (e *Engine) wireBridge(ctx context.Context, d *deployment, tb topo.BridgeDetailed) {
	labID := d.lab.LabID
	bsName := ident.SharedBridge(tb.Index, labID)
	netName := ident.NetworkName(tb.Name, labID)

	if err := e.hostnet.BridgeCreate(bsName); err != nil {
		d.fail("host networking", "", fmt.Errorf("bridge %s: %w", tb.Name, err))
		return
	}

	hasVMMember := false
	for _, ep := range tb.Members {
		if d.images[ep.Node].Kind != store.KindContainer {
			hasVMMember = true
		}
	}
	if hasVMMember {
		if err := e.virt.CreateNetwork(virt.NetworkSpec{
			Name:   netName,
			Kind:   virt.NetworkSharedBridge,
			Bridge: bsName,
		}); err != nil {
			d.fail("host networking", "", fmt.Errorf("bridge %s: %w", tb.Name, err))
			return
		}
	}

	var dockerNet string
	for _, ep := range tb.Members {
		att := &attachment{network: netName, bridge: bsName}
		if d.images[ep.Node].Kind == store.KindContainer {
			if dockerNet == "" {
				dockerNet = e.macvlanFor(ctx, d, bsName)
			}
			att.dockerNet = dockerNet
		}
		d.attach(ep.Node, ep.IfIndex, att)
	}
}

// macvlanFor lazily creates the docker macvlan network riding a kernel
// bridge, so container endpoints join the same L2 segment as VM NICs.
// Returns the network name, or empty after a recorded failure.
func (e *Engine) macvlanFor(ctx context.Context, d *deployment, bridge string) string {
	if _, err := e.docker.NetworkCreateMACVLAN(ctx, bridge, bridge, ""); err != nil {
		d.fail("host networking", "", fmt.Errorf("macvlan over %s: %w", bridge, err))
		return ""
	}
	return bridge
}

func (e *Engine) needsReserved(d *deployment) bool {
	for i := range d.topo.Nodes {
		tn := &d.topo.Nodes[i]
		img := d.images[tn.Name]
		if img.Kind == store.KindContainer {
			continue
		}
		for slot := 1; slot <= dataSlots(img); slot++ {
			if d.plan[tn.Name][slot] == nil {
				return true
			}
		}
	}
	return false
}

// dataSlots is the number of data NICs a VM built from this image carries.
func dataSlots(img *store.NodeImage) int {
	n := img.DataInterfaceCount
	if !img.DedicatedManagement {
		n += img.ReservedInterfaceCount
	}
	return n
}

// storage clones each surviving VM node's base disk into the storage pool
// and uploads its ZTP media alongside.
func (e *Engine) storage(ctx context.Context, d *deployment) {
	if !d.hasVM {
		return
	}
	pool := e.cfg.StoragePool
	if err := e.virt.EnsurePool(pool, filepath.Join(e.cfg.BaseDir, "pool")); err != nil {
		d.fail("storage", "", err)
		return
	}

	labID := d.lab.LabID
	for i := range d.topo.Nodes {
		tn := &d.topo.Nodes[i]
		img := d.images[tn.Name]
		if img.Kind == store.KindContainer || d.skipped(tn.Name) {
			continue
		}
		if err := ctx.Err(); err != nil {
			d.fail("storage", tn.Name, err)
			continue
		}

		vol := ident.VolumeName(labID, tn.Name, images.DiskFileName)
		if err := e.virt.UploadVolume(pool, vol, e.library.DiskPath(img)); err != nil {
			d.fail("storage", tn.Name, err)
			continue
		}

		art := d.artifacts[tn.Name]
		if art == nil || art.Kind == ztp.KindNone || art.Kind == ztp.KindIgnition {
			continue
		}
		mediaVol := ident.VolumeName(labID, tn.Name, filepath.Base(art.Path))
		if err := e.virt.UploadVolume(pool, mediaVol, art.Path); err != nil {
			d.fail("storage", tn.Name, err)
		}
	}
}

// launch defines and starts every surviving node in parallel, moving each
// to running or failed.
func (e *Engine) launch(ctx context.Context, d *deployment) {
	var wg sync.WaitGroup
	for i := range d.topo.Nodes {
		tn := &d.topo.Nodes[i]
		if d.skipped(tn.Name) {
			e.setState(ctx, d, tn.Name, store.StateFailed)
			continue
		}
		wg.Add(1)
		go func(tn *topo.NodeExpanded) {
			defer wg.Done()
			var err error
			if d.images[tn.Name].Kind == store.KindContainer {
				err = e.launchContainer(ctx, d, tn)
			} else {
				err = e.launchDomain(ctx, d, tn)
			}
			if err != nil {
				d.fail("domains", tn.Name, err)
				e.setState(ctx, d, tn.Name, store.StateFailed)
				return
			}
			e.setState(ctx, d, tn.Name, store.StateRunning)
		}(tn)
	}
	wg.Wait()
}

func (e *Engine) setState(ctx context.Context, d *deployment, node string, state store.NodeState) {
	if err := e.db.SetNodeState(ctx, d.nodes[node].ID, state); err != nil {
		util.WithNode(d.lab.LabID, node).Warnf("state %s not recorded: %v", state, err)
	}
}

func (e *Engine) launchDomain(ctx context.Context, d *deployment, tn *topo.NodeExpanded) error {
	labID := d.lab.LabID
	img := d.images[tn.Name]

	memory := tn.Memory
	if memory == 0 {
		memory = img.MemoryMiB
	}
	cpus := tn.CPUCount
	if cpus == 0 {
		cpus = img.CPUCount
	}

	spec := virt.DomainSpec{
		Name:        ident.DomainName(tn.Name, labID),
		VCPUs:       cpus,
		MemoryMiB:   memory,
		MachineType: img.MachineType,
		BiosType:    img.BiosType,
		Disks: []virt.DiskSpec{{
			Pool:   e.cfg.StoragePool,
			Volume: ident.VolumeName(labID, tn.Name, images.DiskFileName),
			Format: "qcow2",
		}},
		NICs: []virt.NICSpec{{
			Kind:    virt.NICNetwork,
			Network: ident.ManagementNetwork(labID),
			MAC:     ident.NodeMAC(labID, tn.Index),
			MTU:     img.InterfaceMTU,
		}},
	}

	switch art := d.artifacts[tn.Name]; art.Kind {
	case ztp.KindSeedISO:
		spec.Disks = append(spec.Disks, virt.DiskSpec{
			Pool:   e.cfg.StoragePool,
			Volume: ident.VolumeName(labID, tn.Name, filepath.Base(art.Path)),
			Format: "raw",
			CDROM:  true,
		})
	case ztp.KindFlashImage:
		spec.Disks = append(spec.Disks, virt.DiskSpec{
			Pool:   e.cfg.StoragePool,
			Volume: ident.VolumeName(labID, tn.Name, filepath.Base(art.Path)),
			Format: "raw",
		})
	case ztp.KindIgnition:
		spec.IgnitionPath = art.Path
	}

	for slot := 1; slot <= dataSlots(img); slot++ {
		nic := virt.NICSpec{MTU: img.InterfaceMTU}
		switch att := d.plan[tn.Name][slot]; {
		case att == nil:
			nic.Kind = virt.NICNetwork
			nic.Network = ident.NetworkName("rsv", labID)
		case att.udp != nil:
			nic.Kind = virt.NICUDP
			nic.LocalAddr = att.udp.localAddr
			nic.LocalPort = att.udp.localPort
			nic.RemoteAddr = att.udp.remoteAddr
			nic.RemotePort = att.udp.remotePort
		case att.network != "":
			nic.Kind = virt.NICNetwork
			nic.Network = att.network
		default:
			nic.Kind = virt.NICBridge
			nic.Bridge = att.bridge
		}
		spec.NICs = append(spec.NICs, nic)
	}

	xml, err := virt.BuildDomainXML(spec)
	if err != nil {
		return err
	}
	return e.virt.DefineAndStart(xml)
}

func (e *Engine) launchContainer(ctx context.Context, d *deployment, tn *topo.NodeExpanded) error {
	labID := d.lab.LabID
	img := d.images[tn.Name]

	spec := docker.ContainerSpec{
		Name:       ident.DomainName(tn.Name, labID),
		Image:      images.ContainerReference(img),
		Hostname:   tn.Name,
		Privileged: true,
		Networks: []docker.NetworkAttachment{{
			Network: ident.ManagementNetwork(labID),
			IP:      d.builder.MgmtIP(tn.Index).String(),
			MAC:     ident.NodeMAC(labID, tn.Index),
		}},
	}

	// Data attachments in interface order; unwired container interfaces
	// simply do not exist.
	for slot := 1; slot <= img.DataInterfaceCount; slot++ {
		att := d.plan[tn.Name][slot]
		if att == nil || att.dockerNet == "" {
			continue
		}
		spec.Networks = append(spec.Networks, docker.NetworkAttachment{Network: att.dockerNet})
	}

	_, err := e.docker.ContainerRun(ctx, spec)
	return err
}

// settle polls each running node for its management address until the
// readiness deadline, writing discovered addresses back to the store.
func (e *Engine) settle(ctx context.Context, d *deployment) {
	labID := d.lab.LabID
	mgmtName := ident.ManagementNetwork(labID)
	deadline := time.Now().Add(e.cfg.ReadinessTimeout.Std())

	var wg sync.WaitGroup
	for i := range d.topo.Nodes {
		tn := &d.topo.Nodes[i]
		if d.skipped(tn.Name) {
			continue
		}
		wg.Add(1)
		go func(tn *topo.NodeExpanded) {
			defer wg.Done()
			name := ident.DomainName(tn.Name, labID)
			container := d.images[tn.Name].Kind == store.KindContainer

			for {
				var addr string
				var err error
				if container {
					addr, err = e.docker.ContainerIP(ctx, name, mgmtName)
				} else {
					addr, err = e.virt.ManagementIP(name)
				}
				if err == nil && addr != "" {
					if serr := e.db.SetNodeMgmtIP(ctx, d.nodes[tn.Name].ID, addr); serr != nil {
						d.fail("settlement", tn.Name, serr)
					}
					return
				}
				if time.Now().After(deadline) {
					d.fail("settlement", tn.Name,
						fmt.Errorf("no management address within %s", e.cfg.ReadinessTimeout.Std()))
					return
				}
				select {
				case <-ctx.Done():
					d.fail("settlement", tn.Name, ctx.Err())
					return
				case <-time.After(e.cfg.ReadinessSleep.Std()):
				}
			}
		}(tn)
	}
	wg.Wait()
}

// finalize writes the per-lab ssh_config and lab-info.toml.
func (e *Engine) finalize(ctx context.Context, d *deployment) {
	nodes, err := e.db.ListNodesByLab(ctx, d.lab.ID)
	if err != nil {
		d.fail("finalize", "", err)
		return
	}
	if err := d.builder.WriteSSHConfig(nodes); err != nil {
		d.fail("finalize", "", err)
	}
	if err := d.builder.WriteLabInfo(); err != nil {
		d.fail("finalize", "", err)
	}
}

func (e *Engine) summarize(ctx context.Context, d *deployment) *UpSummary {
	summary := &UpSummary{
		LabID:   d.lab.LabID,
		Name:    d.lab.Name,
		Owner:   d.lab.Owner,
		Success: len(d.errs) == 0,
		Errors:  d.errs,
	}
	nodes, err := e.db.ListNodesByLab(ctx, d.lab.ID)
	if err != nil {
		summary.Success = false
		summary.Errors = append(summary.Errors, UpError{Phase: "finalize", Message: err.Error()})
		return summary
	}
	for _, n := range nodes {
		model := ""
		if tn := d.topo.Node(n.Name); tn != nil {
			model = tn.Model
		}
		summary.Nodes = append(summary.Nodes, NodeStatus{
			Name:     n.Name,
			Model:    model,
			State:    string(n.State),
			MgmtIPv4: n.MgmtIPv4,
		})
	}
	return summary
}
