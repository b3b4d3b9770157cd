package ident

import (
	"errors"
	"net"
	"testing"

	"github.com/sherpa-network/sherpa/pkg/util"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("bad CIDR %s: %v", s, err)
	}
	return n
}

// ============================================================
// Loopback /30 allocation
// ============================================================

func TestAllocateLoopback(t *testing.T) {
	tests := []struct {
		name string
		used []string
		want string
	}{
		{
			name: "first allocation skips the host block",
			used: nil,
			want: "127.0.0.4/30",
		},
		{
			name: "next block when first is taken",
			used: []string{"127.0.0.4/30"},
			want: "127.0.0.8/30",
		},
		{
			name: "holes are filled smallest first",
			used: []string{"127.0.0.4/30", "127.0.0.12/30"},
			want: "127.0.0.8/30",
		},
		{
			name: "crosses octet boundary",
			used: []string{
				"127.0.0.4/30", "127.0.0.8/30", "127.0.0.12/30",
			},
			want: "127.0.0.16/30",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var used []*net.IPNet
			for _, u := range tt.used {
				used = append(used, mustCIDR(t, u))
			}
			got, err := AllocateLoopback(used)
			if err != nil {
				t.Fatalf("AllocateLoopback() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("AllocateLoopback() = %s, want %s", got.String(), tt.want)
			}
		})
	}
}

func TestAllocateLoopbackDisjoint(t *testing.T) {
	var used []*net.IPNet
	seen := map[string]bool{}

	for i := 0; i < 32; i++ {
		got, err := AllocateLoopback(used)
		if err != nil {
			t.Fatalf("allocation %d failed: %v", i, err)
		}
		if seen[got.String()] {
			t.Fatalf("allocation %d returned duplicate network %s", i, got)
		}
		seen[got.String()] = true
		used = append(used, got)
	}
}

// ============================================================
// Management /24 allocation
// ============================================================

func TestAllocateManagement(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		used    []string
		want    string
		wantErr error
	}{
		{
			name:   "first block",
			prefix: "192.168.64.0/18",
			want:   "192.168.64.0/24",
		},
		{
			name:   "second block",
			prefix: "192.168.64.0/18",
			used:   []string{"192.168.64.0/24"},
			want:   "192.168.65.0/24",
		},
		{
			name:   "fills holes first",
			prefix: "192.168.64.0/18",
			used:   []string{"192.168.64.0/24", "192.168.66.0/24"},
			want:   "192.168.65.0/24",
		},
		{
			name:   "prefix is itself a /24",
			prefix: "10.10.10.0/24",
			want:   "10.10.10.0/24",
		},
		{
			name:    "exhausted",
			prefix:  "10.10.10.0/24",
			used:    []string{"10.10.10.0/24"},
			wantErr: util.ErrExhausted,
		},
		{
			name:    "prefix too small",
			prefix:  "10.10.10.0/30",
			wantErr: util.ErrValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var used []*net.IPNet
			for _, u := range tt.used {
				used = append(used, mustCIDR(t, u))
			}
			got, err := AllocateManagement(mustCIDR(t, tt.prefix), used)
			if tt.wantErr != nil {
				if err == nil {
					t.Fatalf("AllocateManagement() = %v, want error %v", got, tt.wantErr)
				}
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("AllocateManagement() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("AllocateManagement() error = %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("AllocateManagement() = %s, want %s", got.String(), tt.want)
			}
		})
	}
}
