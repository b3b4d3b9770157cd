package virt

import (
	"fmt"
	"strings"

	libvirt "libvirt.org/go/libvirt"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// DomainInfo is one domain's name and liveness.
type DomainInfo struct {
	Name   string
	State  string
	Active bool
}

func stateName(s libvirt.DomainState) string {
	switch s {
	case libvirt.DOMAIN_RUNNING:
		return "running"
	case libvirt.DOMAIN_PAUSED:
		return "paused"
	case libvirt.DOMAIN_SHUTDOWN, libvirt.DOMAIN_SHUTOFF:
		return "stopped"
	case libvirt.DOMAIN_CRASHED:
		return "crashed"
	default:
		return "unknown"
	}
}

// DefineAndStart defines a persistent domain from XML and boots it. The
// domain survives a daemon restart so destroy can find it by name.
func (s *Session) DefineAndStart(xml string) error {
	return s.run(func(conn *libvirt.Connect) error {
		dom, err := conn.DomainDefineXMLFlags(xml, libvirt.DOMAIN_DEFINE_VALIDATE)
		if err != nil {
			return fmt.Errorf("define domain: %w", err)
		}
		defer dom.Free()
		if err := dom.Create(); err != nil {
			_ = dom.Undefine()
			return fmt.Errorf("start domain: %w", err)
		}
		return nil
	})
}

// Suspend pauses a domain if it is active.
func (s *Session) Suspend(name string) error {
	return s.run(func(conn *libvirt.Connect) error {
		dom, err := conn.LookupDomainByName(name)
		if err != nil {
			return util.NewNotFoundError("domain", name)
		}
		defer dom.Free()

		active, err := dom.IsActive()
		if err != nil {
			return fmt.Errorf("domain %s: %w", name, err)
		}
		if !active {
			return fmt.Errorf("domain %s is not active: %w", name, util.ErrValidationFailed)
		}
		if err := dom.Suspend(); err != nil {
			return fmt.Errorf("suspend domain %s: %w", name, err)
		}
		return nil
	})
}

// Resume unpauses a domain if it is paused.
func (s *Session) Resume(name string) error {
	return s.run(func(conn *libvirt.Connect) error {
		dom, err := conn.LookupDomainByName(name)
		if err != nil {
			return util.NewNotFoundError("domain", name)
		}
		defer dom.Free()

		state, _, err := dom.GetState()
		if err != nil {
			return fmt.Errorf("domain %s: %w", name, err)
		}
		if state != libvirt.DOMAIN_PAUSED {
			return fmt.Errorf("domain %s is not paused: %w", name, util.ErrValidationFailed)
		}
		if err := dom.Resume(); err != nil {
			return fmt.Errorf("resume domain %s: %w", name, err)
		}
		return nil
	})
}

// Undefine force-stops a domain and removes its definition. The NVRAM
// flag is required for UEFI domains.
func (s *Session) Undefine(name string) error {
	return s.run(func(conn *libvirt.Connect) error {
		dom, err := conn.LookupDomainByName(name)
		if err != nil {
			return util.NewNotFoundError("domain", name)
		}
		defer dom.Free()

		if active, _ := dom.IsActive(); active {
			if err := dom.Destroy(); err != nil {
				return fmt.Errorf("destroy domain %s: %w", name, err)
			}
		}
		if err := dom.UndefineFlags(libvirt.DOMAIN_UNDEFINE_NVRAM | libvirt.DOMAIN_UNDEFINE_MANAGED_SAVE); err != nil {
			return fmt.Errorf("undefine domain %s: %w", name, err)
		}
		return nil
	})
}

// DomainState reports one domain's current state.
func (s *Session) DomainState(name string) (*DomainInfo, error) {
	info := &DomainInfo{Name: name}
	err := s.run(func(conn *libvirt.Connect) error {
		dom, err := conn.LookupDomainByName(name)
		if err != nil {
			return util.NewNotFoundError("domain", name)
		}
		defer dom.Free()

		state, _, err := dom.GetState()
		if err != nil {
			return fmt.Errorf("domain %s: %w", name, err)
		}
		info.State = stateName(state)
		info.Active = state == libvirt.DOMAIN_RUNNING
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// ListDomainsFuzzy returns every defined domain whose name contains the
// substring, with its state.
func (s *Session) ListDomainsFuzzy(substring string) ([]DomainInfo, error) {
	var infos []DomainInfo
	err := s.run(func(conn *libvirt.Connect) error {
		doms, err := conn.ListAllDomains(0)
		if err != nil {
			return fmt.Errorf("list domains: %w", err)
		}
		for i := range doms {
			name, err := doms[i].GetName()
			if err == nil && strings.Contains(name, substring) {
				state, _, serr := doms[i].GetState()
				info := DomainInfo{Name: name}
				if serr == nil {
					info.State = stateName(state)
					info.Active = state == libvirt.DOMAIN_RUNNING
				}
				infos = append(infos, info)
			}
			doms[i].Free()
		}
		return nil
	})
	return infos, err
}

// ManagementIP reads the first address of the first interface libvirt's
// lease table reports for a domain. Empty when no lease exists yet.
func (s *Session) ManagementIP(name string) (string, error) {
	var addr string
	err := s.run(func(conn *libvirt.Connect) error {
		dom, err := conn.LookupDomainByName(name)
		if err != nil {
			return util.NewNotFoundError("domain", name)
		}
		defer dom.Free()

		ifaces, err := dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_LEASE)
		if err != nil {
			return fmt.Errorf("domain %s addresses: %w", name, err)
		}
		for _, iface := range ifaces {
			for _, a := range iface.Addrs {
				if a.Addr != "" {
					addr = a.Addr
					return nil
				}
			}
		}
		return nil
	})
	return addr, err
}
