package snapshot

import "time"

// ManifestVersion is the current manifest schema version. Readers reject
// manifests written by a newer schema instead of misreading them.
const ManifestVersion = 1

// Manifest describes one saved structure set: the geometry parameters it was
// built with and one payload blob per batch. It is encoded through a
// codec.Codec and published via a blobstore.CommitStore once every blob it
// references is durable.
type Manifest struct {
	Version     int             `json:"version" yaml:"version"`
	Name        string          `json:"name" yaml:"name"`
	CreatedAt   time.Time       `json:"created_at" yaml:"created_at"`
	Compression string          `json:"compression" yaml:"compression"`
	Radius      float32         `json:"radius" yaml:"radius"`
	RawDim      int             `json:"raw_dim" yaml:"raw_dim"`
	PaddedDim   int             `json:"padded_dim" yaml:"padded_dim"`
	NumPoints   int             `json:"num_points" yaml:"num_points"`
	Batches     []BatchManifest `json:"batches" yaml:"batches"`
}

// BatchManifest locates one batch's payload blob and records the sizes the
// loader needs before inflating it.
type BatchManifest struct {
	Batch       int    `json:"batch" yaml:"batch"`
	Blob        string `json:"blob" yaml:"blob"`
	Nodes       int    `json:"nodes" yaml:"nodes"`
	Prims       int    `json:"prims" yaml:"prims"`
	Depth       int    `json:"depth" yaml:"depth"`
	PayloadSize int64  `json:"payload_size" yaml:"payload_size"`
}
