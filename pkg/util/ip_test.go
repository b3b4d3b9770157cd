package util

import (
	"net"
	"testing"
)

func TestNthIP(t *testing.T) {
	tests := []struct {
		name    string
		network string
		n       int
		want    string
	}{
		{"network address", "192.168.77.0/24", 0, "192.168.77.0"},
		{"gateway", "192.168.77.0/24", 1, "192.168.77.1"},
		{"mid range", "192.168.77.0/24", 100, "192.168.77.100"},
		{"broadcast", "192.168.77.0/24", 255, "192.168.77.255"},
		{"past broadcast", "192.168.77.0/24", 256, ""},
		{"loopback /30 first host", "127.0.0.4/30", 1, "127.0.0.5"},
		{"loopback /30 second host", "127.0.0.4/30", 2, "127.0.0.6"},
		{"/30 out of range", "127.0.0.4/30", 4, ""},
		{"negative", "10.0.0.0/24", -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, network, err := net.ParseCIDR(tt.network)
			if err != nil {
				t.Fatalf("bad test network %s: %v", tt.network, err)
			}
			got := NthIP(network, tt.n)
			if tt.want == "" {
				if got != nil {
					t.Errorf("NthIP() = %v, want nil", got)
				}
				return
			}
			if got == nil || got.String() != tt.want {
				t.Errorf("NthIP() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMaskDotted(t *testing.T) {
	tests := []struct {
		maskLen int
		want    string
	}{
		{24, "255.255.255.0"},
		{30, "255.255.255.252"},
		{16, "255.255.0.0"},
		{8, "255.0.0.0"},
	}

	for _, tt := range tests {
		if got := MaskDotted(tt.maskLen); got != tt.want {
			t.Errorf("MaskDotted(%d) = %s, want %s", tt.maskLen, got, tt.want)
		}
	}
}

func TestIsValidIPv4CIDR(t *testing.T) {
	tests := []struct {
		cidr string
		want bool
	}{
		{"192.168.64.0/24", true},
		{"127.0.0.0/8", true},
		{"127.0.0.4/30", true},
		{"192.168.64.0", false},
		{"2001:db8::/64", false},
		{"garbage", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.cidr, func(t *testing.T) {
			if got := IsValidIPv4CIDR(tt.cidr); got != tt.want {
				t.Errorf("IsValidIPv4CIDR(%q) = %v, want %v", tt.cidr, got, tt.want)
			}
		})
	}
}
