package rpc

import (
	"github.com/sherpa-network/sherpa/pkg/images"
	"github.com/sherpa-network/sherpa/pkg/lab"
)

// ListLabsResponse enumerates labs visible to the caller.
type ListLabsResponse struct {
	Labs []lab.LabSummary `json:"labs"`
}

// LabVmActionResponse reports a suspend/resume batch.
type LabVmActionResponse struct {
	LabID   string               `json:"lab_id"`
	Action  string               `json:"action"`
	Results []lab.VmActionResult `json:"results"`
}

// ImageScanResponse reports a registry reconciliation pass.
type ImageScanResponse struct {
	Results []images.ScanResult `json:"results"`
}

// ImageInfo is one row of a list_images response.
type ImageInfo struct {
	Model     string `json:"model"`
	Kind      string `json:"kind"`
	Version   string `json:"version"`
	Default   bool   `json:"default"`
	CreatedAt string `json:"created_at"`
}

// ListImagesResponse enumerates registered images.
type ListImagesResponse struct {
	Images []ImageInfo `json:"images"`
}

// OKResponse acknowledges methods with no payload.
type OKResponse struct {
	OK bool `json:"ok"`
}
