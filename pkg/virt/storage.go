package virt

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	libvirt "libvirt.org/go/libvirt"
	libvirtxml "libvirt.org/go/libvirtxml"

	"github.com/sherpa-network/sherpa/pkg/util"
)

// uploadChunkSize is the stream granularity for volume uploads.
const uploadChunkSize = 25 << 20

// VolumeFormat infers the libvirt volume format from a file extension.
// Everything that is not qcow2 ships as raw bytes (ISOs, ignition blobs,
// flash images).
func VolumeFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".qcow2") {
		return "qcow2"
	}
	return "raw"
}

// EnsurePool defines, builds, starts, and autostarts a directory-backed
// storage pool. Idempotent: an existing pool is started if inactive and
// otherwise left alone.
func (s *Session) EnsurePool(name, path string) error {
	return s.run(func(conn *libvirt.Connect) error {
		if pool, err := conn.LookupStoragePoolByName(name); err == nil {
			defer pool.Free()
			active, err := pool.IsActive()
			if err != nil {
				return fmt.Errorf("pool %s: %w", name, err)
			}
			if !active {
				if err := pool.Create(0); err != nil {
					return fmt.Errorf("start pool %s: %w", name, err)
				}
			}
			return nil
		}

		doc := &libvirtxml.StoragePool{
			Type:   "dir",
			Name:   name,
			Target: &libvirtxml.StoragePoolTarget{Path: path},
		}
		xml, err := doc.Marshal()
		if err != nil {
			return err
		}
		pool, err := conn.StoragePoolDefineXML(xml, 0)
		if err != nil {
			return fmt.Errorf("define pool %s: %w", name, err)
		}
		defer pool.Free()
		if err := pool.Build(0); err != nil {
			return fmt.Errorf("build pool %s: %w", name, err)
		}
		if err := pool.Create(0); err != nil {
			return fmt.Errorf("start pool %s: %w", name, err)
		}
		if err := pool.SetAutostart(true); err != nil {
			return fmt.Errorf("autostart pool %s: %w", name, err)
		}
		util.Debugf("virt: created storage pool %s at %s", name, path)
		return nil
	})
}

// UploadVolume defines a volume named volName in the pool and streams the
// source file into it in 25 MiB chunks. The volume format comes from the
// source extension.
func (s *Session) UploadVolume(poolName, volName, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("volume source: %w", util.NewNotFoundError("file", srcPath))
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcPath, err)
	}
	defer src.Close()

	return s.run(func(conn *libvirt.Connect) error {
		pool, err := conn.LookupStoragePoolByName(poolName)
		if err != nil {
			return fmt.Errorf("pool %s: %w", poolName, util.NewNotFoundError("pool", poolName))
		}
		defer pool.Free()

		// Re-upload replaces the old volume.
		if old, err := pool.LookupStorageVolByName(volName); err == nil {
			_ = old.Delete(0)
			old.Free()
		}

		doc := &libvirtxml.StorageVolume{
			Name:     volName,
			Capacity: &libvirtxml.StorageVolumeSize{Value: uint64(info.Size()), Unit: "bytes"},
			Target: &libvirtxml.StorageVolumeTarget{
				Format: &libvirtxml.StorageVolumeTargetFormat{Type: VolumeFormat(srcPath)},
			},
		}
		xml, err := doc.Marshal()
		if err != nil {
			return err
		}
		vol, err := pool.StorageVolCreateXML(xml, 0)
		if err != nil {
			return fmt.Errorf("create volume %s: %w", volName, err)
		}
		defer vol.Free()

		stream, err := conn.NewStream(0)
		if err != nil {
			return fmt.Errorf("open stream: %w", err)
		}
		defer stream.Free()

		if err := vol.Upload(stream, 0, uint64(info.Size()), 0); err != nil {
			return fmt.Errorf("start upload %s: %w", volName, err)
		}

		buf := make([]byte, uploadChunkSize)
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				if _, serr := stream.Send(buf[:n]); serr != nil {
					_ = stream.Abort()
					return fmt.Errorf("upload %s: %w", volName, serr)
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				_ = stream.Abort()
				return fmt.Errorf("read %s: %w", srcPath, rerr)
			}
		}
		if err := stream.Finish(); err != nil {
			return fmt.Errorf("finish upload %s: %w", volName, err)
		}
		util.Debugf("virt: uploaded %s (%d bytes) to pool %s", volName, info.Size(), poolName)
		return nil
	})
}

// DeleteVolume removes one volume from the pool.
func (s *Session) DeleteVolume(poolName, volName string) error {
	return s.run(func(conn *libvirt.Connect) error {
		pool, err := conn.LookupStoragePoolByName(poolName)
		if err != nil {
			return util.NewNotFoundError("pool", poolName)
		}
		defer pool.Free()

		vol, err := pool.LookupStorageVolByName(volName)
		if err != nil {
			return util.NewNotFoundError("volume", volName)
		}
		defer vol.Free()
		if err := vol.Delete(0); err != nil {
			return fmt.Errorf("delete volume %s: %w", volName, err)
		}
		return nil
	})
}

// DeleteVolumesByPrefix removes every volume in the pool whose name starts
// with the prefix and returns the names deleted.
func (s *Session) DeleteVolumesByPrefix(poolName, prefix string) ([]string, error) {
	var deleted []string
	err := s.run(func(conn *libvirt.Connect) error {
		pool, err := conn.LookupStoragePoolByName(poolName)
		if err != nil {
			return util.NewNotFoundError("pool", poolName)
		}
		defer pool.Free()

		vols, err := pool.ListAllStorageVolumes(0)
		if err != nil {
			return fmt.Errorf("list volumes: %w", err)
		}
		for i := range vols {
			name, err := vols[i].GetName()
			if err == nil && strings.HasPrefix(name, prefix) {
				if derr := vols[i].Delete(0); derr == nil {
					deleted = append(deleted, name)
				}
			}
			vols[i].Free()
		}
		return nil
	})
	return deleted, err
}
