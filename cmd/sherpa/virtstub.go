package main

import (
	"fmt"

	"github.com/sherpa-network/sherpa/pkg/virt"
)

// virtUnavailable stands in for the libvirt adapter when the daemon runs
// on a host without a reachable hypervisor. VM operations fail with a
// clear error; the list/delete calls used by destroy report nothing to
// reclaim so container-only labs still tear down cleanly.
type virtUnavailable struct{}

var errNoLibvirt = fmt.Errorf("libvirt is not available on this host")

func (virtUnavailable) EnsurePool(name, path string) error { return errNoLibvirt }
func (virtUnavailable) UploadVolume(pool, vol, srcPath string) error { return errNoLibvirt }
func (virtUnavailable) DeleteVolumesByPrefix(pool, prefix string) ([]string, error) {
	return nil, nil
}

func (virtUnavailable) CreateNetwork(spec virt.NetworkSpec) error { return errNoLibvirt }
func (virtUnavailable) DestroyNetwork(name string) error { return errNoLibvirt }
func (virtUnavailable) ListNetworksFuzzy(substring string) ([]string, error) {
	return nil, nil
}

func (virtUnavailable) DefineAndStart(xml string) error { return errNoLibvirt }
func (virtUnavailable) Suspend(name string) error { return errNoLibvirt }
func (virtUnavailable) Resume(name string) error { return errNoLibvirt }
func (virtUnavailable) Undefine(name string) error { return errNoLibvirt }
func (virtUnavailable) ListDomainsFuzzy(substring string) ([]virt.DomainInfo, error) {
	return nil, nil
}
func (virtUnavailable) ManagementIP(name string) (string, error) { return "", errNoLibvirt }
