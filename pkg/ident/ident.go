// Package ident derives the deterministic identifiers a lab is built from:
// the lab ID hash, node MAC addresses, host interface and bridge names, and
// the per-model interface index resolution used by the topology compiler.
package ident

import (
	"crypto/sha256"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// labIDSeed is the fixed XXH32 seed for lab identifiers. Changing it would
// orphan every persisted lab, so it never changes.
const labIDSeed = 0xFFFFFFFF

// LabID returns the deterministic 8-hex-digit identifier for a user's lab.
// The same (username, labName) pair always hashes to the same ID; a
// collision across users surfaces as a name conflict at insert time.
func LabID(username, labName string) string {
	return fmt.Sprintf("%08x", xxhash.Checksum32S([]byte(username+labName), labIDSeed))
}

// NodeMAC returns the management MAC for a node. The high three octets are
// the KVM OUI; the low three come from a hash of the lab ID and node index
// so a restarted lab reuses its DHCP leases.
func NodeMAC(labID string, nodeIndex int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s-%d", labID, nodeIndex)))
	return fmt.Sprintf("52:54:00:%02x:%02x:%02x", hash[0], hash[1], hash[2])
}

// Host object names. The destroy path finds lab-owned leftovers by the
// labID suffix, so every name generated here must end in "-<labID>".

// VethA names the bridge-side veth end for a link.
func VethA(linkIdx int, labID string) string {
	return fmt.Sprintf("vea%d-%s", linkIdx, labID)
}

// VethB names the domain-side veth end for a link.
func VethB(linkIdx int, labID string) string {
	return fmt.Sprintf("veb%d-%s", linkIdx, labID)
}

// BridgeA names the A-side per-link bridge.
func BridgeA(linkIdx int, labID string) string {
	return fmt.Sprintf("bra%d-%s", linkIdx, labID)
}

// BridgeB names the B-side per-link bridge.
func BridgeB(linkIdx int, labID string) string {
	return fmt.Sprintf("brb%d-%s", linkIdx, labID)
}

// SharedBridge names the kernel bridge backing a multi-point segment.
func SharedBridge(bridgeIdx int, labID string) string {
	return fmt.Sprintf("bs%d-%s", bridgeIdx, labID)
}

// ManagementNetwork names the per-lab libvirt management network.
func ManagementNetwork(labID string) string {
	return "mgmt-" + labID
}

// NetworkName scopes a manifest-level segment name to a lab.
func NetworkName(name, labID string) string {
	return name + "-" + labID
}

// DomainName names a libvirt domain or Docker container for a node.
func DomainName(node, labID string) string {
	return node + "-" + labID
}

// VolumeName names a storage-pool volume for a node disk or seed image.
func VolumeName(labID, node, file string) string {
	return fmt.Sprintf("%s-%s-%s", labID, node, file)
}

// UDPPortA returns the A-side listen port for a UDP tunnel link.
func UDPPortA(base, linkIdx int) int {
	return base + 2*linkIdx
}

// UDPPortB returns the B-side listen port for a UDP tunnel link.
func UDPPortB(base, linkIdx int) int {
	return base + 2*linkIdx + 1
}
