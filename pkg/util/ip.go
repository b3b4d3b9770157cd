package util

import (
	"net"
	"strings"
)

// NthIP returns the nth address inside network (0 = network address).
// Returns nil when the offset walks past the broadcast address.
func NthIP(network *net.IPNet, n int) net.IP {
	ip := network.IP.To4()
	if ip == nil {
		return nil
	}
	ones, bits := network.Mask.Size()
	if n < 0 || n >= 1<<(bits-ones) {
		return nil
	}
	v := uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
	v += uint32(n)
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// MaskDotted renders a prefix length as a dotted-quad netmask (24 -> 255.255.255.0).
func MaskDotted(maskLen int) string {
	m := net.CIDRMask(maskLen, 32)
	return net.IPv4(m[0], m[1], m[2], m[3]).String()
}

// IsValidIPv4CIDR checks if a string is a valid IPv4 CIDR notation
func IsValidIPv4CIDR(cidr string) bool {
	_, _, err := net.ParseCIDR(cidr)
	if err != nil {
		return false
	}
	parts := strings.Split(cidr, "/")
	ip := net.ParseIP(parts[0])
	return ip != nil && ip.To4() != nil
}
