package ztp

import (
	"fmt"
	"os"
	"sort"

	diskfile "github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/diskfs/go-diskfs/filesystem/iso9660"
)

const (
	isoBlockSize = 2048

	// flashImageSize is the capacity of vendor flash disks. FAT32 needs
	// a minimum cluster count, and vendor bootstrap code expects room
	// for crash dumps next to the config.
	flashImageSize = 64 << 20
	flashBlockSize = 512
)

// sortedNames keeps media packing deterministic for a given file set.
func sortedNames(files map[string][]byte) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// packISO writes files into a fresh ISO-9660 image with the given volume
// label. Used for cloud-init seed disks.
func packISO(path, volume string, files map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	fs, err := iso9660.Create(diskfile.New(f, false), 0, 0, isoBlockSize, "")
	if err != nil {
		return fmt.Errorf("format iso %s: %w", path, err)
	}
	for _, name := range sortedNames(files) {
		rw, err := fs.OpenFile("/"+name, os.O_CREATE|os.O_RDWR)
		if err != nil {
			return fmt.Errorf("iso open %s: %w", name, err)
		}
		if _, err := rw.Write(files[name]); err != nil {
			return fmt.Errorf("iso write %s: %w", name, err)
		}
	}
	if err := fs.Finalize(iso9660.FinalizeOptions{
		RockRidge:        true,
		VolumeIdentifier: volume,
	}); err != nil {
		return fmt.Errorf("finalize iso %s: %w", path, err)
	}
	return nil
}

// packFlash writes files into a fresh FAT32 disk image. Used for vendor
// bootstrap flash.
func packFlash(path, volume string, files map[string][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(flashImageSize); err != nil {
		return fmt.Errorf("size %s: %w", path, err)
	}

	fs, err := fat32.Create(diskfile.New(f, false), flashImageSize, 0, flashBlockSize, volume)
	if err != nil {
		return fmt.Errorf("format fat32 %s: %w", path, err)
	}
	for _, name := range sortedNames(files) {
		rw, err := fs.OpenFile("/"+name, os.O_CREATE|os.O_RDWR)
		if err != nil {
			return fmt.Errorf("flash open %s: %w", name, err)
		}
		if _, err := rw.Write(files[name]); err != nil {
			return fmt.Errorf("flash write %s: %w", name, err)
		}
	}
	return nil
}
