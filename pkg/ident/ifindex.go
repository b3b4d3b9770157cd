package ident

import (
	"fmt"
	"strconv"
	"strings"
)

// InterfaceGrammar describes how a device model names its interfaces and
// how those names map onto NIC indices. Index 0 is always the management
// interface; data interfaces start at index 1.
type InterfaceGrammar struct {
	// Prefix is the canonical data-interface prefix, e.g. "GigabitEthernet0/".
	Prefix string
	// Aliases are accepted short forms, e.g. "Gi0/".
	Aliases []string
	// IndexBase is added to the parsed ordinal to produce the NIC index.
	// Models whose first data port is <prefix>0 behind a dedicated
	// management port use 1; models whose ordinal already equals the index
	// use 0.
	IndexBase int
	// DedicatedManagement is true when the model has a management port
	// outside the data grammar (fxp0, Management1, mgmt0). When false,
	// ordinal 0 of the data grammar is the management interface.
	DedicatedManagement bool
	// ManagementName is the dedicated management port name, when present.
	ManagementName string
	// DataInterfaceCount is the number of usable data interfaces.
	DataInterfaceCount int
	// ReservedInterfaceCount extends the usable range on models without a
	// dedicated management port.
	ReservedInterfaceCount int
}

// Index resolves an interface name to its NIC index. Index 0 means the
// management interface. Unknown names return an error naming the model's
// expected grammar.
func (g InterfaceGrammar) Index(name string) (int, error) {
	if g.DedicatedManagement && name == g.ManagementName {
		return 0, nil
	}
	ord, ok := g.ordinal(name)
	if !ok {
		return 0, fmt.Errorf("interface %q does not match grammar %s<n>", name, g.Prefix)
	}
	idx := ord + g.IndexBase
	if g.DedicatedManagement && idx == 0 {
		return 0, fmt.Errorf("interface %q is not valid; management interface is %q", name, g.ManagementName)
	}
	return idx, nil
}

// Name renders the canonical interface name for a NIC index. Inverse of
// Index for valid indices.
func (g InterfaceGrammar) Name(index int) string {
	if index == 0 {
		if g.DedicatedManagement {
			return g.ManagementName
		}
		return g.Prefix + "0"
	}
	return g.Prefix + strconv.Itoa(index-g.IndexBase)
}

// MaxIndex returns the highest NIC index usable as a data link endpoint.
// Models with a dedicated management port expose exactly their data
// interfaces; the rest may also use the reserved range.
func (g InterfaceGrammar) MaxIndex() int {
	if g.DedicatedManagement {
		return g.DataInterfaceCount
	}
	return g.DataInterfaceCount + g.ReservedInterfaceCount
}

// ManagementInterface returns the name of the management port.
func (g InterfaceGrammar) ManagementInterface() string {
	return g.Name(0)
}

func (g InterfaceGrammar) ordinal(name string) (int, bool) {
	for _, p := range append([]string{g.Prefix}, g.Aliases...) {
		if p == "" || !strings.HasPrefix(name, p) {
			continue
		}
		n, err := strconv.Atoi(name[len(p):])
		if err != nil || n < 0 {
			continue
		}
		return n, true
	}
	return 0, false
}
