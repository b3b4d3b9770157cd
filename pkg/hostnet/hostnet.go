// Package hostnet creates the kernel objects that carry lab traffic: Linux
// bridges and veth pairs, via netlink. All operations serialize on a
// process-wide mutex; link creates and deletes share one kernel namespace
// and interleaved calls produce name collisions.
package hostnet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/sherpa-network/sherpa/pkg/util"
)

var mu sync.Mutex

// Adapter wraps netlink operations on the host namespace.
type Adapter struct{}

// New returns the host-network adapter.
func New() *Adapter {
	return &Adapter{}
}

// BridgeCreate creates a Linux bridge and brings it up. Fails when the
// name is already in use.
func (a *Adapter) BridgeCreate(name string) error {
	mu.Lock()
	defer mu.Unlock()

	if _, err := netlink.LinkByName(name); err == nil {
		return fmt.Errorf("bridge %s: %w", name, util.ErrAlreadyExists)
	}

	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := netlink.LinkAdd(br); err != nil {
		return fmt.Errorf("create bridge %s: %w", name, err)
	}
	if err := netlink.LinkSetUp(br); err != nil {
		return fmt.Errorf("bring up bridge %s: %w", name, err)
	}
	util.Debugf("hostnet: created bridge %s", name)
	return nil
}

// VethCreate creates a veth pair and brings both ends up. One end goes
// into a bridge; the other is wired into a domain through its XML.
func (a *Adapter) VethCreate(nameA, nameB string) error {
	mu.Lock()
	defer mu.Unlock()

	for _, name := range []string{nameA, nameB} {
		if _, err := netlink.LinkByName(name); err == nil {
			return fmt.Errorf("interface %s: %w", name, util.ErrAlreadyExists)
		}
	}

	veth := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: nameA},
		PeerName:  nameB,
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return fmt.Errorf("create veth %s/%s: %w", nameA, nameB, err)
	}
	for _, name := range []string{nameA, nameB} {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return fmt.Errorf("lookup veth end %s: %w", name, err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("bring up veth end %s: %w", name, err)
		}
	}
	util.Debugf("hostnet: created veth pair %s/%s", nameA, nameB)
	return nil
}

// SetMaster places an interface into a bridge.
func (a *Adapter) SetMaster(iface, bridge string) error {
	mu.Lock()
	defer mu.Unlock()

	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", iface, util.NewNotFoundError("interface", iface))
	}
	br, err := netlink.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", bridge, util.NewNotFoundError("bridge", bridge))
	}
	if err := netlink.LinkSetMaster(link, br); err != nil {
		return fmt.Errorf("enslave %s to %s: %w", iface, bridge, err)
	}
	return nil
}

// InterfaceDelete removes an interface. Deleting one end of a veth pair
// reaps the peer in the kernel.
func (a *Adapter) InterfaceDelete(name string) error {
	mu.Lock()
	defer mu.Unlock()

	link, err := netlink.LinkByName(name)
	if err != nil {
		return util.NewNotFoundError("interface", name)
	}
	if err := netlink.LinkDel(link); err != nil {
		return fmt.Errorf("delete interface %s: %w", name, err)
	}
	util.Debugf("hostnet: deleted interface %s", name)
	return nil
}

// FindFuzzy lists host interfaces whose name contains the substring. The
// destroy path uses this to find lab-owned leftovers by lab ID suffix.
func (a *Adapter) FindFuzzy(substring string) ([]string, error) {
	mu.Lock()
	defer mu.Unlock()

	links, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var names []string
	for _, link := range links {
		name := link.Attrs().Name
		if strings.Contains(name, substring) {
			names = append(names, name)
		}
	}
	return names, nil
}
