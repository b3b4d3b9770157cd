// Package images tracks imported disk and container images: their on-disk
// layout under <base>/images, their NodeImage rows in the store, and the
// built-in per-model hardware templates those rows are stamped from.
package images

import (
	"fmt"
	"sort"

	"github.com/sherpa-network/sherpa/pkg/ident"
	"github.com/sherpa-network/sherpa/pkg/store"
	"github.com/sherpa-network/sherpa/pkg/util"
)

// Template is the built-in hardware shape of a device model. Import stamps
// NodeImage rows from it; the topology compiler resolves interface names
// through its grammar.
type Template struct {
	Model       string
	Kind        store.ImageKind
	CPUCount    int
	MemoryMiB   int
	MTU         int
	OSVariant   string
	BiosType    string
	MachineType string
	ZTPMethod   store.ZTPMethod
	// ContainerImage is the default OCI reference for container models.
	ContainerImage string
	Grammar        ident.InterfaceGrammar
}

// catalog holds every model sherpa knows how to boot. Interface counts
// follow the shipped qcow2/OCI images, not the hardware maximums.
var catalog = map[string]Template{
	"cisco_iosv": {
		Model:       "cisco_iosv",
		Kind:        store.KindVirtualMachine,
		CPUCount:    1,
		MemoryMiB:   2048,
		MTU:         1500,
		OSVariant:   "linux2020",
		BiosType:    "bios",
		MachineType: "pc",
		ZTPMethod:   store.ZTPVendorFlash,
		Grammar: ident.InterfaceGrammar{
			Prefix:  "GigabitEthernet0/",
			Aliases: []string{"Gi0/", "gi0/"},
			// Gi0/0 is the management port; Gi0/1 is NIC index 1.
			IndexBase:              0,
			DedicatedManagement:    false,
			DataInterfaceCount:     3,
			ReservedInterfaceCount: 0,
		},
	},
	"cisco_iosvl2": {
		Model:       "cisco_iosvl2",
		Kind:        store.KindVirtualMachine,
		CPUCount:    1,
		MemoryMiB:   4096,
		MTU:         1500,
		OSVariant:   "linux2020",
		BiosType:    "bios",
		MachineType: "pc",
		ZTPMethod:   store.ZTPVendorFlash,
		Grammar: ident.InterfaceGrammar{
			Prefix:                 "GigabitEthernet0/",
			Aliases:                []string{"Gi0/", "gi0/"},
			IndexBase:              0,
			DedicatedManagement:    false,
			DataInterfaceCount:     7,
			ReservedInterfaceCount: 8,
		},
	},
	"arista_veos": {
		Model:       "arista_veos",
		Kind:        store.KindVirtualMachine,
		CPUCount:    2,
		MemoryMiB:   4096,
		MTU:         1500,
		OSVariant:   "linux2020",
		BiosType:    "bios",
		MachineType: "q35",
		ZTPMethod:   store.ZTPVendorFlash,
		Grammar: ident.InterfaceGrammar{
			Prefix:              "Ethernet",
			Aliases:             []string{"Et", "et"},
			IndexBase:           0,
			DedicatedManagement: true,
			ManagementName:      "Management1",
			DataInterfaceCount:  8,
		},
	},
	"juniper_vjunos": {
		Model:       "juniper_vjunos",
		Kind:        store.KindVirtualMachine,
		CPUCount:    4,
		MemoryMiB:   5120,
		MTU:         1500,
		OSVariant:   "freebsd12.0",
		BiosType:    "bios",
		MachineType: "q35",
		ZTPMethod:   store.ZTPVendorFlash,
		Grammar: ident.InterfaceGrammar{
			Prefix:  "ge-0/0/",
			Aliases: nil,
			// ge-0/0/0 is the first data port behind fxp0.
			IndexBase:           1,
			DedicatedManagement: true,
			ManagementName:      "fxp0",
			DataInterfaceCount:  10,
		},
	},
	"fedora_coreos": {
		Model:       "fedora_coreos",
		Kind:        store.KindVirtualMachine,
		CPUCount:    2,
		MemoryMiB:   2048,
		MTU:         1500,
		OSVariant:   "fedora-coreos-stable",
		BiosType:    "uefi",
		MachineType: "q35",
		ZTPMethod:   store.ZTPIgnition,
		Grammar: ident.InterfaceGrammar{
			Prefix:                 "eth",
			IndexBase:              0,
			DedicatedManagement:    false,
			DataInterfaceCount:     7,
			ReservedInterfaceCount: 0,
		},
	},
	"linux": {
		Model:       "linux",
		Kind:        store.KindVirtualMachine,
		CPUCount:    1,
		MemoryMiB:   1024,
		MTU:         1500,
		OSVariant:   "linux2020",
		BiosType:    "bios",
		MachineType: "pc",
		ZTPMethod:   store.ZTPCloudInit,
		Grammar: ident.InterfaceGrammar{
			Prefix:                 "eth",
			IndexBase:              0,
			DedicatedManagement:    false,
			DataInterfaceCount:     7,
			ReservedInterfaceCount: 0,
		},
	},
	"nokia_srlinux": {
		Model:          "nokia_srlinux",
		Kind:           store.KindContainer,
		CPUCount:       2,
		MemoryMiB:      4096,
		MTU:            9232,
		ZTPMethod:      store.ZTPNone,
		ContainerImage: "ghcr.io/nokia/srlinux",
		Grammar: ident.InterfaceGrammar{
			Prefix:              "e1-",
			Aliases:             []string{"ethernet-1/"},
			IndexBase:           0,
			DedicatedManagement: true,
			ManagementName:      "mgmt0",
			DataInterfaceCount:  16,
		},
	},
	"frr": {
		Model:          "frr",
		Kind:           store.KindContainer,
		CPUCount:       1,
		MemoryMiB:      512,
		MTU:            1500,
		ZTPMethod:      store.ZTPNone,
		ContainerImage: "quay.io/frrouting/frr",
		Grammar: ident.InterfaceGrammar{
			Prefix:                 "eth",
			IndexBase:              0,
			DedicatedManagement:    false,
			DataInterfaceCount:     15,
			ReservedInterfaceCount: 0,
		},
	},
	"host": {
		Model:          "host",
		Kind:           store.KindContainer,
		CPUCount:       1,
		MemoryMiB:      256,
		MTU:            1500,
		ZTPMethod:      store.ZTPNone,
		ContainerImage: "ghcr.io/hellt/network-multitool",
		Grammar: ident.InterfaceGrammar{
			Prefix:                 "eth",
			IndexBase:              0,
			DedicatedManagement:    false,
			DataInterfaceCount:     15,
			ReservedInterfaceCount: 0,
		},
	},
}

// Lookup returns the template for a model.
func Lookup(model string) (Template, error) {
	tpl, ok := catalog[model]
	if !ok {
		return Template{}, util.NewNotFoundError("model", model)
	}
	return tpl, nil
}

// Grammar returns the interface grammar for a model. It satisfies the
// topology compiler's catalog dependency.
func Grammar(model string) (ident.InterfaceGrammar, error) {
	tpl, ok := catalog[model]
	if !ok {
		return ident.InterfaceGrammar{}, util.NewNotFoundError("model", model)
	}
	return tpl.Grammar, nil
}

// Models returns the known model names sorted.
func Models() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// row stamps a NodeImage from the template for a specific version.
func (t Template) row(version string, isDefault bool) *store.NodeImage {
	return &store.NodeImage{
		Model:                  t.Model,
		Kind:                   t.Kind,
		Version:                version,
		Default:                isDefault,
		CPUCount:               t.CPUCount,
		MemoryMiB:              t.MemoryMiB,
		InterfaceMTU:           t.MTU,
		DataInterfaceCount:     t.Grammar.DataInterfaceCount,
		ReservedInterfaceCount: t.Grammar.ReservedInterfaceCount,
		DedicatedManagement:    t.Grammar.DedicatedManagement,
		InterfacePrefix:        t.Grammar.Prefix,
		OSVariant:              t.OSVariant,
		BiosType:               t.BiosType,
		MachineType:            t.MachineType,
		ZTPMethod:              t.ZTPMethod,
		ContainerImage:         t.ContainerImage,
	}
}

// ContainerReference renders the OCI reference for a container image row.
func ContainerReference(img *store.NodeImage) string {
	if img.ContainerImage == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", img.ContainerImage, img.Version)
}
