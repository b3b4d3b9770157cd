package ident

import (
	"fmt"
	"net"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// AllocateLoopback returns the first free /30 inside 127.0.0.0/8, scanning
// from the smallest network address. 127.0.0.0/30 is never handed out
// because it contains the host loopback address. Fails with ErrExhausted
// when the pool is full.
func AllocateLoopback(used []*net.IPNet) (*net.IPNet, error) {
	taken := make(map[string]bool, len(used))
	for _, u := range used {
		if u == nil {
			continue
		}
		taken[u.String()] = true
	}

	mask := net.CIDRMask(30, 32)
	base := net.IPv4(127, 0, 0, 0).To4()
	v := uint32(base[0])<<24 | uint32(base[1])<<16 | uint32(base[2])<<8 | uint32(base[3])

	// 2^22 /30 blocks in a /8; block 0 is reserved for the host.
	for i := uint32(1); i < 1<<22; i++ {
		addr := v + i*4
		candidate := &net.IPNet{
			IP:   net.IPv4(byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr)).To4(),
			Mask: mask,
		}
		if !taken[candidate.String()] {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("no free /30 in 127.0.0.0/8: %w", util.ErrExhausted)
}

// AllocateManagement carves the first free /24 out of the configured
// management prefix. Each lab's management network is a /24 so node index
// maps directly onto the final octet.
func AllocateManagement(prefix *net.IPNet, used []*net.IPNet) (*net.IPNet, error) {
	ones, bits := prefix.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("management prefix must be IPv4: %w", util.ErrValidationFailed)
	}
	if ones > 24 {
		return nil, fmt.Errorf("management prefix /%d too small to carve a /24: %w", ones, util.ErrValidationFailed)
	}

	taken := make(map[string]bool, len(used))
	for _, u := range used {
		if u == nil {
			continue
		}
		taken[u.String()] = true
	}

	mask := net.CIDRMask(24, 32)
	blocks := 1 << (24 - ones)
	for i := 0; i < blocks; i++ {
		ip := util.NthIP(prefix, i*256)
		if ip == nil {
			break
		}
		candidate := &net.IPNet{IP: ip.To4(), Mask: mask}
		if !taken[candidate.String()] {
			return candidate, nil
		}
	}
	return nil, fmt.Errorf("no free /24 in %s: %w", prefix.String(), util.ErrExhausted)
}
