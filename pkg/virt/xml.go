package virt

import (
	"fmt"

	libvirtxml "libvirt.org/go/libvirtxml"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// OVMF firmware paths used for UEFI domains.
const (
	uefiLoaderPath = "/usr/share/OVMF/OVMF_CODE.fd"
	uefiNVRamPath  = "/usr/share/OVMF/OVMF_VARS.fd"
)

// DiskSpec attaches one pool volume to a domain.
type DiskSpec struct {
	Pool   string
	Volume string
	// Format is the driver type: qcow2 or raw.
	Format string
	// CDROM attaches the volume as a read-only CD (cloud-init seed).
	CDROM bool
}

// NICKind is the attachment flavor of one domain interface.
type NICKind string

const (
	// NICNetwork joins a libvirt network by name.
	NICNetwork NICKind = "network"
	// NICBridge joins a Linux bridge directly.
	NICBridge NICKind = "bridge"
	// NICUDP is one side of a UDP point-to-point tunnel.
	NICUDP NICKind = "udp"
)

// NICSpec describes one domain interface. Interfaces are emitted in slice
// order, which must match the model's NIC index order: the management
// interface first, data interfaces following.
type NICSpec struct {
	Kind    NICKind
	MAC     string
	Network string
	Bridge  string
	MTU     int
	// UDP tunnel endpoints.
	LocalAddr  string
	LocalPort  int
	RemoteAddr string
	RemotePort int
}

// DomainSpec is everything needed to render a domain definition.
type DomainSpec struct {
	Name        string
	VCPUs       int
	MemoryMiB   int
	MachineType string
	// BiosType is "bios" or "uefi"; uefi adds the OVMF loader and NVRAM.
	BiosType string
	Disks    []DiskSpec
	NICs     []NICSpec
	// IgnitionPath injects an Ignition document through qemu fw_cfg.
	IgnitionPath string
}

// diskTargets orders virtio disk device names.
var diskTargets = []string{"vda", "vdb", "vdc", "vdd", "vde", "vdf"}

// BuildDomainXML renders the libvirt domain document for a spec.
func BuildDomainXML(spec DomainSpec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("domain spec has no name: %w", util.ErrValidationFailed)
	}
	machine := spec.MachineType
	if machine == "" {
		machine = "q35"
	}

	doc := &libvirtxml.Domain{
		Type: "kvm",
		Name: spec.Name,
		Memory: &libvirtxml.DomainMemory{
			Value: uint(spec.MemoryMiB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{Value: uint(spec.VCPUs)},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch:    "x86_64",
				Machine: machine,
				Type:    "hvm",
			},
			BootDevices: []libvirtxml.DomainBootDevice{{Dev: "hd"}},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
		},
		CPU: &libvirtxml.DomainCPU{Mode: "host-passthrough"},
		Devices: &libvirtxml.DomainDeviceList{
			Serials: []libvirtxml.DomainSerial{{}},
			Consoles: []libvirtxml.DomainConsole{{
				Target: &libvirtxml.DomainConsoleTarget{Type: "serial"},
			}},
		},
	}

	if spec.BiosType == "uefi" {
		doc.OS.Loader = &libvirtxml.DomainLoader{
			Readonly: "yes",
			Type:     "pflash",
			Path:     uefiLoaderPath,
		}
		doc.OS.NVRam = &libvirtxml.DomainNVRam{Template: uefiNVRamPath}
	}

	cdromIdx := 0
	diskIdx := 0
	for _, d := range spec.Disks {
		disk := libvirtxml.DomainDisk{
			Device: "disk",
			Driver: &libvirtxml.DomainDiskDriver{Name: "qemu", Type: d.Format},
			Source: &libvirtxml.DomainDiskSource{
				Volume: &libvirtxml.DomainDiskSourceVolume{
					Pool:   d.Pool,
					Volume: d.Volume,
				},
			},
		}
		if d.CDROM {
			disk.Device = "cdrom"
			disk.ReadOnly = &libvirtxml.DomainDiskReadOnly{}
			disk.Target = &libvirtxml.DomainDiskTarget{
				Dev: fmt.Sprintf("sd%c", 'a'+cdromIdx),
				Bus: "sata",
			}
			cdromIdx++
		} else {
			if diskIdx >= len(diskTargets) {
				return "", fmt.Errorf("domain %s: too many disks: %w", spec.Name, util.ErrValidationFailed)
			}
			disk.Target = &libvirtxml.DomainDiskTarget{
				Dev: diskTargets[diskIdx],
				Bus: "virtio",
			}
			diskIdx++
		}
		doc.Devices.Disks = append(doc.Devices.Disks, disk)
	}

	for i, n := range spec.NICs {
		iface := libvirtxml.DomainInterface{
			Model: &libvirtxml.DomainInterfaceModel{Type: "virtio"},
		}
		if n.MAC != "" {
			iface.MAC = &libvirtxml.DomainInterfaceMAC{Address: n.MAC}
		}
		if n.MTU > 0 && n.MTU != 1500 {
			iface.MTU = &libvirtxml.DomainInterfaceMTU{Size: uint(n.MTU)}
		}

		switch n.Kind {
		case NICNetwork:
			iface.Source = &libvirtxml.DomainInterfaceSource{
				Network: &libvirtxml.DomainInterfaceSourceNetwork{Network: n.Network},
			}
		case NICBridge:
			iface.Source = &libvirtxml.DomainInterfaceSource{
				Bridge: &libvirtxml.DomainInterfaceSourceBridge{Bridge: n.Bridge},
			}
		case NICUDP:
			iface.Source = &libvirtxml.DomainInterfaceSource{
				UDP: &libvirtxml.DomainInterfaceSourceUDP{
					Address: n.RemoteAddr,
					Port:    uint(n.RemotePort),
					Local: &libvirtxml.DomainInterfaceSourceLocal{
						Address: n.LocalAddr,
						Port:    uint(n.LocalPort),
					},
				},
			}
		default:
			return "", fmt.Errorf("domain %s nic %d: unknown kind %q: %w",
				spec.Name, i, n.Kind, util.ErrValidationFailed)
		}
		doc.Devices.Interfaces = append(doc.Devices.Interfaces, iface)
	}

	if spec.IgnitionPath != "" {
		doc.QEMUCommandline = &libvirtxml.DomainQEMUCommandline{
			Args: []libvirtxml.DomainQEMUCommandlineArg{
				{Value: "-fw_cfg"},
				{Value: "name=opt/com.coreos/config,file=" + spec.IgnitionPath},
			},
		}
	}

	return doc.Marshal()
}
