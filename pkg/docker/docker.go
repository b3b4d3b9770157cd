// Package docker wraps the Docker API for container-kind nodes: lab
// networks (bridge and macvlan over a pre-made host bridge), container
// lifecycle, and image pulls. The client is thread-safe and shared.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// Adapter wraps a Docker API client.
type Adapter struct {
	cli *client.Client
}

// Connect dials the Docker daemon at host.
func Connect(host string) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost(host),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker connect %s: %w: %v", host, util.ErrUnavailable, err)
	}
	return &Adapter{cli: cli}, nil
}

// Close releases the client's transport.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// Ping verifies the daemon is answering.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.cli.Ping(ctx)
	return err
}

// NetworkCreateBridge creates a bridge network over a named kernel bridge
// so containers and VMs share the same L2 segment.
func (a *Adapter) NetworkCreateBridge(ctx context.Context, name, subnet, bridge string) (string, error) {
	opts := types.NetworkCreate{
		Driver: "bridge",
		Options: map[string]string{
			"com.docker.network.bridge.name": bridge,
		},
	}
	if subnet != "" {
		opts.IPAM = &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: subnet}},
		}
	}
	resp, err := a.cli.NetworkCreate(ctx, name, opts)
	if err != nil {
		return "", fmt.Errorf("create bridge network %s: %w", name, err)
	}
	util.Debugf("docker: created bridge network %s", name)
	return resp.ID, nil
}

// NetworkCreateMACVLAN creates a macvlan attachment over an existing host
// bridge, putting containers on the same L2 segment as VM NICs on that
// bridge. With an empty subnet the guest configures its own addresses;
// with a subnet docker pins per-container addresses statically.
func (a *Adapter) NetworkCreateMACVLAN(ctx context.Context, name, parent, subnet string) (string, error) {
	opts := types.NetworkCreate{
		Driver: "macvlan",
		Options: map[string]string{
			"parent": parent,
		},
	}
	if subnet != "" {
		opts.IPAM = &network.IPAM{
			Config: []network.IPAMConfig{{Subnet: subnet}},
		}
	}
	resp, err := a.cli.NetworkCreate(ctx, name, opts)
	if err != nil {
		return "", fmt.Errorf("create macvlan network %s over %s: %w", name, parent, err)
	}
	util.Debugf("docker: created macvlan network %s over %s", name, parent)
	return resp.ID, nil
}

// NetworkRemove deletes a network by name or ID.
func (a *Adapter) NetworkRemove(ctx context.Context, name string) error {
	if err := a.cli.NetworkRemove(ctx, name); err != nil {
		return fmt.Errorf("remove network %s: %w", name, err)
	}
	return nil
}

// NetworkListFuzzy returns network names containing the substring.
func (a *Adapter) NetworkListFuzzy(ctx context.Context, substring string) ([]string, error) {
	nets, err := a.cli.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	var names []string
	for _, n := range nets {
		if strings.Contains(n.Name, substring) {
			names = append(names, n.Name)
		}
	}
	return names, nil
}

// pullMessage is one line of the layered pull progress stream.
type pullMessage struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ImagePull pulls repo:tag, consuming the progress stream. A single error
// is surfaced when the stream ends badly.
func (a *Adapter) ImagePull(ctx context.Context, repo, tag string) error {
	ref := repo + ":" + tag
	rc, err := a.cli.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	for {
		var msg pullMessage
		if err := dec.Decode(&msg); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("pull %s: decode progress: %w", ref, err)
		}
		if msg.Error != "" {
			return fmt.Errorf("pull %s failed: %s: %w", ref, msg.Error, util.ErrUnavailable)
		}
	}
	util.Debugf("docker: pulled %s", ref)
	return nil
}

// ImageList returns the local image references.
func (a *Adapter) ImageList(ctx context.Context) ([]string, error) {
	images, err := a.cli.ImageList(ctx, types.ImageListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	var refs []string
	for _, img := range images {
		refs = append(refs, img.RepoTags...)
	}
	return refs, nil
}

// ImagePresent reports whether repo:tag exists locally.
func (a *Adapter) ImagePresent(ctx context.Context, repo, tag string) (bool, error) {
	refs, err := a.ImageList(ctx)
	if err != nil {
		return false, err
	}
	want := repo + ":" + tag
	for _, ref := range refs {
		if ref == want {
			return true, nil
		}
	}
	return false, nil
}

// NetworkAttachment joins a container to one network, optionally pinning
// its address and MAC on that segment.
type NetworkAttachment struct {
	Network string
	IP      string
	MAC     string
}

// ContainerSpec describes one container to run.
type ContainerSpec struct {
	Name       string
	Image      string
	Hostname   string
	Cmd        []string
	Env        []string
	Binds      []string
	Privileged bool
	// Ports maps "hostPort" to "containerPort/proto".
	Ports map[string]string
	// Networks lists attachments; the first becomes the create-time
	// network, the rest are connected before start.
	Networks []NetworkAttachment
}

// ContainerRun creates and starts a container, returning its ID.
func (a *Adapter) ContainerRun(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:    spec.Image,
		Hostname: spec.Hostname,
		Cmd:      spec.Cmd,
		Env:      spec.Env,
	}
	hostCfg := &container.HostConfig{
		Privileged: spec.Privileged,
		Binds:      spec.Binds,
	}

	if len(spec.Ports) > 0 {
		cfg.ExposedPorts = nat.PortSet{}
		hostCfg.PortBindings = nat.PortMap{}
		for hostPort, containerPort := range spec.Ports {
			port, err := nat.NewPort(splitProto(containerPort))
			if err != nil {
				return "", fmt.Errorf("container %s port %s: %w", spec.Name, containerPort, err)
			}
			cfg.ExposedPorts[port] = struct{}{}
			hostCfg.PortBindings[port] = []nat.PortBinding{{HostPort: hostPort}}
		}
	}

	var netCfg *network.NetworkingConfig
	if len(spec.Networks) > 0 {
		first := spec.Networks[0]
		netCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				first.Network: endpointSettings(first),
			},
		}
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container %s: %w", spec.Name, err)
	}

	if len(spec.Networks) > 1 {
		for _, att := range spec.Networks[1:] {
			if err := a.cli.NetworkConnect(ctx, att.Network, resp.ID, endpointSettings(att)); err != nil {
				return "", fmt.Errorf("connect container %s to %s: %w", spec.Name, att.Network, err)
			}
		}
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container %s: %w", spec.Name, err)
	}
	util.Debugf("docker: started container %s (%s)", spec.Name, resp.ID[:12])
	return resp.ID, nil
}

func endpointSettings(att NetworkAttachment) *network.EndpointSettings {
	ep := &network.EndpointSettings{MacAddress: att.MAC}
	if att.IP != "" {
		ep.IPAMConfig = &network.EndpointIPAMConfig{IPv4Address: att.IP}
	}
	return ep
}

func splitProto(port string) (string, string) {
	if i := strings.IndexByte(port, '/'); i > 0 {
		return port[i+1:], port[:i]
	}
	return "tcp", port
}

// ContainerKill sends SIGKILL to a container.
func (a *Adapter) ContainerKill(ctx context.Context, name string) error {
	if err := a.cli.ContainerKill(ctx, name, "SIGKILL"); err != nil {
		return fmt.Errorf("kill container %s: %w", name, err)
	}
	return nil
}

// ContainerRemove force-removes a container.
func (a *Adapter) ContainerRemove(ctx context.Context, name string) error {
	if err := a.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", name, err)
	}
	return nil
}

// ContainerInfo is one container's name, ID, and state.
type ContainerInfo struct {
	ID    string
	Name  string
	State string
}

// ContainerListFuzzy returns containers (including stopped ones) whose
// name contains the substring.
func (a *Adapter) ContainerListFuzzy(ctx context.Context, substring string) ([]ContainerInfo, error) {
	containers, err := a.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var infos []ContainerInfo
	for _, c := range containers {
		for _, cname := range c.Names {
			name := strings.TrimPrefix(cname, "/")
			if strings.Contains(name, substring) {
				infos = append(infos, ContainerInfo{ID: c.ID, Name: name, State: c.State})
				break
			}
		}
	}
	return infos, nil
}

// ContainerIP returns a container's address on one attached network.
func (a *Adapter) ContainerIP(ctx context.Context, name, networkName string) (string, error) {
	inspect, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", fmt.Errorf("inspect container %s: %w", name, err)
	}
	if inspect.NetworkSettings == nil {
		return "", nil
	}
	if ep, ok := inspect.NetworkSettings.Networks[networkName]; ok {
		return ep.IPAddress, nil
	}
	return "", nil
}
