package ident

import "testing"

// Grammars mirroring the built-in model catalog shapes.
var (
	iosvGrammar = InterfaceGrammar{
		Prefix:             "GigabitEthernet0/",
		Aliases:            []string{"Gi0/"},
		DataInterfaceCount: 3,
	}
	linuxGrammar = InterfaceGrammar{
		Prefix:             "eth",
		DataInterfaceCount: 8,
	}
	vjunosGrammar = InterfaceGrammar{
		Prefix:              "ge-0/0/",
		IndexBase:           1,
		DedicatedManagement: true,
		ManagementName:      "fxp0",
		DataInterfaceCount:  10,
	}
	veosGrammar = InterfaceGrammar{
		Prefix:              "Ethernet",
		Aliases:             []string{"Et"},
		DedicatedManagement: true,
		ManagementName:      "Management1",
		DataInterfaceCount:  8,
	}
)

func TestGrammarIndex(t *testing.T) {
	tests := []struct {
		name    string
		grammar InterfaceGrammar
		iface   string
		want    int
		wantErr bool
	}{
		// ==== shared-management grammars (ordinal 0 is management) ====
		{"iosv mgmt", iosvGrammar, "Gi0/0", 0, false},
		{"iosv first data", iosvGrammar, "Gi0/1", 1, false},
		{"iosv long form", iosvGrammar, "GigabitEthernet0/2", 2, false},
		{"iosv out of grammar", iosvGrammar, "FastEthernet0/1", 0, true},
		{"linux mgmt", linuxGrammar, "eth0", 0, false},
		{"linux data", linuxGrammar, "eth3", 3, false},
		{"linux garbage suffix", linuxGrammar, "ethX", 0, true},

		// ==== dedicated-management grammars ====
		{"vjunos mgmt", vjunosGrammar, "fxp0", 0, false},
		{"vjunos first data", vjunosGrammar, "ge-0/0/0", 1, false},
		{"vjunos later data", vjunosGrammar, "ge-0/0/4", 5, false},
		{"veos mgmt", veosGrammar, "Management1", 0, false},
		{"veos first data", veosGrammar, "Ethernet1", 1, false},
		{"veos alias", veosGrammar, "Et2", 2, false},
		{"veos zero ordinal invalid", veosGrammar, "Ethernet0", 0, true},
		{"veos unknown name", veosGrammar, "Loopback0", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.grammar.Index(tt.iface)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Index(%q) error = %v, wantErr %v", tt.iface, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Index(%q) = %d, want %d", tt.iface, got, tt.want)
			}
		})
	}
}

func TestGrammarName(t *testing.T) {
	tests := []struct {
		name    string
		grammar InterfaceGrammar
		index   int
		want    string
	}{
		{"iosv data", iosvGrammar, 1, "GigabitEthernet0/1"},
		{"iosv mgmt", iosvGrammar, 0, "GigabitEthernet0/0"},
		{"linux mgmt", linuxGrammar, 0, "eth0"},
		{"linux data", linuxGrammar, 2, "eth2"},
		{"vjunos mgmt", vjunosGrammar, 0, "fxp0"},
		{"vjunos first data", vjunosGrammar, 1, "ge-0/0/0"},
		{"veos data", veosGrammar, 3, "Ethernet3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.grammar.Name(tt.index); got != tt.want {
				t.Errorf("Name(%d) = %q, want %q", tt.index, got, tt.want)
			}
		})
	}
}

// Index and Name must invert each other across the usable range.
func TestGrammarRoundTrip(t *testing.T) {
	for _, g := range []InterfaceGrammar{iosvGrammar, linuxGrammar, vjunosGrammar, veosGrammar} {
		for idx := 1; idx <= g.MaxIndex(); idx++ {
			name := g.Name(idx)
			back, err := g.Index(name)
			if err != nil {
				t.Fatalf("%s: Index(Name(%d)=%q) failed: %v", g.Prefix, idx, name, err)
			}
			if back != idx {
				t.Errorf("%s: round trip %d -> %q -> %d", g.Prefix, idx, name, back)
			}
		}
	}
}

func TestGrammarMaxIndex(t *testing.T) {
	shared := InterfaceGrammar{Prefix: "eth", DataInterfaceCount: 4, ReservedInterfaceCount: 2}
	if got := shared.MaxIndex(); got != 6 {
		t.Errorf("shared-mgmt MaxIndex = %d, want 6", got)
	}

	dedicated := InterfaceGrammar{Prefix: "ge-0/0/", IndexBase: 1, DedicatedManagement: true, ManagementName: "fxp0", DataInterfaceCount: 4, ReservedInterfaceCount: 2}
	if got := dedicated.MaxIndex(); got != 4 {
		t.Errorf("dedicated-mgmt MaxIndex = %d, want 4", got)
	}
}

func TestManagementInterface(t *testing.T) {
	if got := iosvGrammar.ManagementInterface(); got != "GigabitEthernet0/0" {
		t.Errorf("iosv management = %q, want GigabitEthernet0/0", got)
	}
	if got := vjunosGrammar.ManagementInterface(); got != "fxp0" {
		t.Errorf("vjunos management = %q, want fxp0", got)
	}
}
