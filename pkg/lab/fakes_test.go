package lab

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sherpa-network/sherpa/pkg/config"
	"github.com/sherpa-network/sherpa/pkg/docker"
	"github.com/sherpa-network/sherpa/pkg/images"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/util"
	"github.com/sherpa-network/sherpa/pkg/virt"
)

// ============================================================
// In-memory datastore
// ============================================================

type fakeStore struct {
	mu      sync.Mutex
	seq     int
	labs    map[string]*store.Lab
	nodes   map[string]*store.Node
	links   map[string]*store.Link
	bridges map[string]*store.Bridge
	images  map[string]*store.NodeImage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		labs:    make(map[string]*store.Lab),
		nodes:   make(map[string]*store.Node),
		links:   make(map[string]*store.Link),
		bridges: make(map[string]*store.Bridge),
		images:  make(map[string]*store.NodeImage),
	}
}

func (f *fakeStore) nextID(entity string) string {
	f.seq++
	return fmt.Sprintf("%s:%d", entity, f.seq)
}

func (f *fakeStore) CreateLab(_ context.Context, lab *store.Lab) (*store.Lab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.labs {
		if l.LabID == lab.LabID {
			return nil, util.NewConflictError("lab", "lab_id", lab.LabID)
		}
		if l.Owner == lab.Owner && l.Name == lab.Name {
			return nil, util.NewConflictError("lab", "name", lab.Name)
		}
	}
	out := *lab
	out.ID = f.nextID("lab")
	out.CreatedAt = time.Now()
	f.labs[out.ID] = &out
	return &out, nil
}

func (f *fakeStore) GetLabByLabID(_ context.Context, labID string) (*store.Lab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.labs {
		if l.LabID == labID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, util.NewNotFoundError("lab", labID)
}

func (f *fakeStore) ListLabs(_ context.Context) ([]*store.Lab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Lab
	for _, l := range f.labs {
		cp := *l
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListLabsByOwner(ctx context.Context, owner string) ([]*store.Lab, error) {
	all, _ := f.ListLabs(ctx)
	var out []*store.Lab
	for _, l := range all {
		if l.Owner == owner {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) UsedNetworks(_ context.Context) (loopbacks, mgmt []*net.IPNet, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.labs {
		if _, n, err := net.ParseCIDR(l.LoopbackNetwork); err == nil {
			loopbacks = append(loopbacks, n)
		}
		if _, n, err := net.ParseCIDR(l.MgmtNetwork); err == nil {
			mgmt = append(mgmt, n)
		}
	}
	return loopbacks, mgmt, nil
}

func (f *fakeStore) DeleteLabCascade(_ context.Context, labID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lab *store.Lab
	for _, l := range f.labs {
		if l.LabID == labID {
			lab = l
		}
	}
	if lab == nil {
		return util.NewNotFoundError("lab", labID)
	}
	for id, n := range f.nodes {
		if n.Lab == lab.ID {
			delete(f.nodes, id)
		}
	}
	for id, l := range f.links {
		if l.Lab == lab.ID {
			delete(f.links, id)
		}
	}
	for id, b := range f.bridges {
		if b.Lab == lab.ID {
			delete(f.bridges, id)
		}
	}
	delete(f.labs, lab.ID)
	return nil
}

func (f *fakeStore) CreateNode(_ context.Context, n *store.Node) (*store.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.labs[n.Lab]; !ok {
		return nil, util.NewNotFoundError("lab", n.Lab)
	}
	out := *n
	out.ID = f.nextID("node")
	f.nodes[out.ID] = &out
	return &out, nil
}

func (f *fakeStore) ListNodesByLab(_ context.Context, labRecID string) ([]*store.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Node
	for _, n := range f.nodes {
		if n.Lab == labRecID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *fakeStore) SetNodeState(_ context.Context, id string, state store.NodeState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return util.NewNotFoundError("node", id)
	}
	if !store.ValidTransition(n.State, state) {
		return fmt.Errorf("node %s cannot go from %s to %s: %w",
			n.Name, n.State, state, util.ErrValidationFailed)
	}
	n.State = state
	return nil
}

func (f *fakeStore) SetNodeMgmtIP(_ context.Context, id, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[id]
	if !ok {
		return util.NewNotFoundError("node", id)
	}
	n.MgmtIPv4 = addr
	return nil
}

func (f *fakeStore) CreateLink(_ context.Context, l *store.Link) (*store.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := *l
	out.ID = f.nextID("link")
	f.links[out.ID] = &out
	return &out, nil
}

func (f *fakeStore) ListLinksByLab(_ context.Context, labRecID string) ([]*store.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Link
	for _, l := range f.links {
		if l.Lab == labRecID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *fakeStore) CreateBridge(_ context.Context, b *store.Bridge) (*store.Bridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := *b
	out.ID = f.nextID("bridge")
	f.bridges[out.ID] = &out
	return &out, nil
}

func (f *fakeStore) ListBridgesByLab(_ context.Context, labRecID string) ([]*store.Bridge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.Bridge
	for _, b := range f.bridges {
		if b.Lab == labRecID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (f *fakeStore) GetImageByID(_ context.Context, id string) (*store.NodeImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[id]
	if !ok {
		return nil, util.NewNotFoundError("image", id)
	}
	cp := *img
	return &cp, nil
}

func (f *fakeStore) nodeByName(name string) *store.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.nodes {
		if n.Name == name {
			cp := *n
			return &cp
		}
	}
	return nil
}

// ============================================================
// Image library stamped from the built-in catalog
// ============================================================

type fakeLibrary struct {
	fs  *fakeStore
	dir string
}

func (f *fakeLibrary) Resolve(_ context.Context, model, version string) (*store.NodeImage, error) {
	tpl, err := images.Lookup(model)
	if err != nil {
		return nil, err
	}
	if version == "" {
		version = "1.0"
	}
	row := &store.NodeImage{
		ID:                     "image:" + model,
		Model:                  model,
		Kind:                   tpl.Kind,
		Version:                version,
		CPUCount:               tpl.CPUCount,
		MemoryMiB:              tpl.MemoryMiB,
		InterfaceMTU:           tpl.MTU,
		DataInterfaceCount:     tpl.Grammar.DataInterfaceCount,
		ReservedInterfaceCount: tpl.Grammar.ReservedInterfaceCount,
		DedicatedManagement:    tpl.Grammar.DedicatedManagement,
		InterfacePrefix:        tpl.Grammar.Prefix,
		BiosType:               tpl.BiosType,
		MachineType:            tpl.MachineType,
		ZTPMethod:              tpl.ZTPMethod,
		ContainerImage:         tpl.ContainerImage,
	}
	f.fs.mu.Lock()
	f.fs.images[row.ID] = row
	f.fs.mu.Unlock()
	return row, nil
}

func (f *fakeLibrary) DiskPath(img *store.NodeImage) string {
	return filepath.Join(f.dir, img.Model+".qcow2")
}

// ============================================================
// Virtualization fake
// ============================================================

type fakeVirt struct {
	mu         sync.Mutex
	pools      map[string]string
	volumes    map[string]string // "pool/vol" -> source path
	networks   map[string]virt.NetworkSpec
	domainXML  map[string]string
	domains    map[string]string // name -> state
	ips        map[string]string
	failDefine map[string]bool
}

func newFakeVirt() *fakeVirt {
	return &fakeVirt{
		pools:      make(map[string]string),
		volumes:    make(map[string]string),
		networks:   make(map[string]virt.NetworkSpec),
		domainXML:  make(map[string]string),
		domains:    make(map[string]string),
		ips:        make(map[string]string),
		failDefine: make(map[string]bool),
	}
}

func domainNameFromXML(xml string) string {
	start := strings.Index(xml, "<name>")
	end := strings.Index(xml, "</name>")
	if start < 0 || end < 0 {
		return ""
	}
	return xml[start+len("<name>") : end]
}

func (f *fakeVirt) EnsurePool(name, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pools[name] = path
	return nil
}

func (f *fakeVirt) UploadVolume(pool, vol, srcPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volumes[pool+"/"+vol] = srcPath
	return nil
}

func (f *fakeVirt) DeleteVolumesByPrefix(pool, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted []string
	for key := range f.volumes {
		p, vol, _ := strings.Cut(key, "/")
		if p == pool && strings.HasPrefix(vol, prefix) {
			delete(f.volumes, key)
			deleted = append(deleted, vol)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

func (f *fakeVirt) CreateNetwork(spec virt.NetworkSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.networks[spec.Name]; ok {
		return fmt.Errorf("network %s: %w", spec.Name, util.ErrAlreadyExists)
	}
	f.networks[spec.Name] = spec
	return nil
}

func (f *fakeVirt) DestroyNetwork(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.networks[name]; !ok {
		return util.NewNotFoundError("network", name)
	}
	delete(f.networks, name)
	return nil
}

func (f *fakeVirt) ListNetworksFuzzy(substring string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.networks {
		if strings.Contains(name, substring) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeVirt) DefineAndStart(xml string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := domainNameFromXML(xml)
	if f.failDefine[name] {
		return fmt.Errorf("define domain %s: boom", name)
	}
	f.domainXML[name] = xml
	f.domains[name] = "running"
	return nil
}

func (f *fakeVirt) Suspend(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.domains[name] != "running" {
		return fmt.Errorf("domain %s is not active: %w", name, util.ErrValidationFailed)
	}
	f.domains[name] = "paused"
	return nil
}

func (f *fakeVirt) Resume(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.domains[name] != "paused" {
		return fmt.Errorf("domain %s is not paused: %w", name, util.ErrValidationFailed)
	}
	f.domains[name] = "running"
	return nil
}

func (f *fakeVirt) Undefine(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.domains[name]; !ok {
		return util.NewNotFoundError("domain", name)
	}
	delete(f.domains, name)
	delete(f.domainXML, name)
	return nil
}

func (f *fakeVirt) ListDomainsFuzzy(substring string) ([]virt.DomainInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []virt.DomainInfo
	for name, state := range f.domains {
		if strings.Contains(name, substring) {
			infos = append(infos, virt.DomainInfo{Name: name, State: state, Active: state == "running"})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (f *fakeVirt) ManagementIP(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ips[name], nil
}

// ============================================================
// Docker fake
// ============================================================

type fakeDocker struct {
	mu         sync.Mutex
	networks   map[string]string // name -> driver
	containers map[string]docker.ContainerSpec
	states     map[string]string
	present    map[string]bool
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		networks:   make(map[string]string),
		containers: make(map[string]docker.ContainerSpec),
		states:     make(map[string]string),
		present:    make(map[string]bool),
	}
}

func (f *fakeDocker) NetworkCreateBridge(_ context.Context, name, subnet, bridge string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = "bridge"
	return name, nil
}

func (f *fakeDocker) NetworkCreateMACVLAN(_ context.Context, name, parent, subnet string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = "macvlan"
	return name, nil
}

func (f *fakeDocker) NetworkRemove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.networks[name]; !ok {
		return util.NewNotFoundError("network", name)
	}
	delete(f.networks, name)
	return nil
}

func (f *fakeDocker) NetworkListFuzzy(_ context.Context, substring string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.networks {
		if strings.Contains(name, substring) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeDocker) ImagePresent(_ context.Context, repo, tag string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[repo+":"+tag], nil
}

func (f *fakeDocker) ContainerRun(_ context.Context, spec docker.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[spec.Name] = spec
	f.states[spec.Name] = "running"
	return "cid-" + spec.Name, nil
}

func (f *fakeDocker) ContainerKill(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return util.NewNotFoundError("container", name)
	}
	f.states[name] = "exited"
	return nil
}

func (f *fakeDocker) ContainerRemove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[name]; !ok {
		return util.NewNotFoundError("container", name)
	}
	delete(f.containers, name)
	delete(f.states, name)
	return nil
}

func (f *fakeDocker) ContainerListFuzzy(_ context.Context, substring string) ([]docker.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []docker.ContainerInfo
	for name := range f.containers {
		if strings.Contains(name, substring) {
			infos = append(infos, docker.ContainerInfo{ID: "cid-" + name, Name: name, State: f.states[name]})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (f *fakeDocker) ContainerIP(_ context.Context, name, network string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.containers[name]
	if !ok {
		return "", util.NewNotFoundError("container", name)
	}
	for _, att := range spec.Networks {
		if att.Network == network {
			return att.IP, nil
		}
	}
	return "", nil
}

// ============================================================
// Host-network fake
// ============================================================

type fakeHost struct {
	mu      sync.Mutex
	ifaces  map[string]bool
	peers   map[string]string
	masters map[string]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		ifaces:  make(map[string]bool),
		peers:   make(map[string]string),
		masters: make(map[string]string),
	}
}

func (f *fakeHost) BridgeCreate(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ifaces[name] {
		return fmt.Errorf("bridge %s: %w", name, util.ErrAlreadyExists)
	}
	f.ifaces[name] = true
	return nil
}

func (f *fakeHost) VethCreate(a, b string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ifaces[a] || f.ifaces[b] {
		return fmt.Errorf("veth %s/%s: %w", a, b, util.ErrAlreadyExists)
	}
	f.ifaces[a] = true
	f.ifaces[b] = true
	f.peers[a] = b
	f.peers[b] = a
	return nil
}

func (f *fakeHost) SetMaster(iface, bridge string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ifaces[iface] || !f.ifaces[bridge] {
		return util.NewNotFoundError("interface", iface)
	}
	f.masters[iface] = bridge
	return nil
}

func (f *fakeHost) InterfaceDelete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ifaces[name] {
		return util.NewNotFoundError("interface", name)
	}
	delete(f.ifaces, name)
	delete(f.masters, name)
	if peer, ok := f.peers[name]; ok {
		delete(f.ifaces, peer)
		delete(f.masters, peer)
		delete(f.peers, peer)
		delete(f.peers, name)
	}
	return nil
}

func (f *fakeHost) FindFuzzy(substring string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.ifaces {
		if strings.Contains(name, substring) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// ============================================================
// Harness
// ============================================================

type harness struct {
	engine *Engine
	fs     *fakeStore
	fv     *fakeVirt
	fd     *fakeDocker
	fh     *fakeHost
	cfg    *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.ReadinessTimeout = util.Duration(2 * time.Second)
	cfg.ReadinessSleep = util.Duration(5 * time.Millisecond)

	fs := newFakeStore()
	fv := newFakeVirt()
	fd := newFakeDocker()
	fh := newFakeHost()
	lib := &fakeLibrary{fs: fs, dir: t.TempDir()}
	return &harness{
		engine: New(fs, lib, fv, fd, fh, cfg),
		fs:     fs,
		fv:     fv,
		fd:     fd,
		fh:     fh,
		cfg:    cfg,
	}
}

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (p *progressLog) Send(ev Progress) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}
