// Package snapshot persists built acceleration structures so a later run can
// skip the geometry phase. Each batch's points, flattened nodes and primitive
// index are packed into one block-compressed blob; a manifest ties the blobs
// together and is published through a commit store as the final step, so a
// reader never observes a manifest whose blobs are still in flight.
package snapshot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"strings"
	"time"

	"github.com/hupe1980/rango/accel"
	"github.com/hupe1980/rango/blobstore"
	"github.com/hupe1980/rango/codec"
	"github.com/hupe1980/rango/device"
	"github.com/hupe1980/rango/geom"
	"github.com/hupe1980/rango/resource"
)

// ErrVersionMismatch is returned when a manifest was written by a newer
// schema than this reader understands.
var ErrVersionMismatch = errors.New("snapshot: manifest version not supported")

// Source is the structure set a Save serializes, one entry per batch.
type Source struct {
	Radius    float32
	RawDim    int
	PaddedDim int
	NumPoints int
	Batches   []BatchSource
}

// BatchSource carries one batch's geometry and its flattened structure.
type BatchSource struct {
	Points []geom.Vec3
	Nodes  []accel.Node
	Prims  []uint32
	Depth  int
}

// Options configures Save and Load.
type Options struct {
	// Compression selects the payload block codec. Defaults to ZSTD.
	Compression Compression

	// Codec encodes the manifest. Defaults to codec.JSON.
	Codec codec.Codec

	// Throttle, when set, draws blob reads and writes from the
	// controller's copy budget. The engine passes its device's controller
	// so snapshot traffic and buffer copies share one budget.
	Throttle *resource.Controller
}

func applyOptions(optFns []func(*Options)) Options {
	opts := Options{
		Compression: CompressionZSTD,
		Codec:       codec.JSON{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// Save writes one blob per batch plus the manifest into store and publishes
// the manifest name through commit. Blob writes happen first; the commit is
// the single visibility flip.
func Save(ctx context.Context, store blobstore.BlobStore, commit blobstore.CommitStore, src *Source, optFns ...func(*Options)) (*Manifest, error) {
	opts := applyOptions(optFns)

	gen := fmt.Sprintf("snap-%d", time.Now().UnixNano())

	m := &Manifest{
		Version:     ManifestVersion,
		Name:        fmt.Sprintf("%s/manifest.%s", gen, opts.Codec.Name()),
		CreatedAt:   time.Now().UTC(),
		Compression: opts.Compression.String(),
		Radius:      src.Radius,
		RawDim:      src.RawDim,
		PaddedDim:   src.PaddedDim,
		NumPoints:   src.NumPoints,
	}

	for b, batch := range src.Batches {
		payload := encodeBatch(&batch)

		framed, err := compressPayload(payload, opts.Compression)
		if err != nil {
			return nil, fmt.Errorf("snapshot: compress batch %d: %w", b, err)
		}

		name := fmt.Sprintf("%s/batch-%03d.blk", gen, b)
		if err := writeBlob(ctx, store, name, framed, opts.Throttle); err != nil {
			return nil, fmt.Errorf("snapshot: write batch %d: %w", b, err)
		}

		m.Batches = append(m.Batches, BatchManifest{
			Batch:       b,
			Blob:        name,
			Nodes:       len(batch.Nodes),
			Prims:       len(batch.Prims),
			Depth:       batch.Depth,
			PayloadSize: int64(len(payload)),
		})
	}

	encoded, err := opts.Codec.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode manifest: %w", err)
	}

	if err := store.Put(ctx, m.Name, encoded); err != nil {
		return nil, fmt.Errorf("snapshot: write manifest: %w", err)
	}

	if err := commit.Commit(ctx, m.Name); err != nil {
		return nil, fmt.Errorf("snapshot: publish manifest: %w", err)
	}

	return m, nil
}

// LoadedBatch is one rehydrated batch: the host points and the structure
// restored onto the device.
type LoadedBatch struct {
	Points    []geom.Vec3
	Structure *accel.Structure
}

// Snapshot is a fully rehydrated structure set.
type Snapshot struct {
	Manifest *Manifest
	Batches  []LoadedBatch
}

// Free releases every restored structure.
func (s *Snapshot) Free() {
	for _, b := range s.Batches {
		b.Structure.Free()
	}
}

// Load resolves the current manifest through commit, inflates every batch
// blob and restores the structures onto dev. The caller owns the returned
// structures.
func Load(ctx context.Context, store blobstore.BlobStore, commit blobstore.CommitStore, dev *device.Device, optFns ...func(*Options)) (*Snapshot, error) {
	opts := applyOptions(optFns)

	manifestName, err := commit.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: resolve current manifest: %w", err)
	}

	encoded, err := readBlob(ctx, store, manifestName, opts.Throttle)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read manifest: %w", err)
	}

	// The manifest name carries the codec it was written with; select it by
	// name rather than assuming the writer used this reader's default.
	dec := opts.Codec
	if c, ok := codec.ByName(strings.TrimPrefix(path.Ext(manifestName), ".")); ok {
		dec = c
	}

	m := &Manifest{}
	if err := dec.Unmarshal(encoded, m); err != nil {
		return nil, fmt.Errorf("snapshot: decode manifest: %w", err)
	}

	if m.Version > ManifestVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersionMismatch, m.Version)
	}

	compression, err := ParseCompression(m.Compression)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Manifest: m}
	for _, bm := range m.Batches {
		framed, err := readBlob(ctx, store, bm.Blob, opts.Throttle)
		if err != nil {
			snap.Free()
			return nil, fmt.Errorf("snapshot: read batch %d: %w", bm.Batch, err)
		}

		payload, err := decompressPayload(framed, compression, bm.PayloadSize)
		if err != nil {
			snap.Free()
			return nil, fmt.Errorf("snapshot: inflate batch %d: %w", bm.Batch, err)
		}

		batch, err := decodeBatch(payload)
		if err != nil {
			snap.Free()
			return nil, fmt.Errorf("snapshot: decode batch %d: %w", bm.Batch, err)
		}

		s, err := accel.Restore(ctx, dev, batch.Nodes, batch.Prims, batch.Points, m.Radius, bm.Depth)
		if err != nil {
			snap.Free()
			return nil, err
		}

		snap.Batches = append(snap.Batches, LoadedBatch{Points: batch.Points, Structure: s})
	}

	return snap, nil
}

// Payload layout, little-endian throughout:
//
//	u32 numPoints, u32 numNodes, u32 numPrims
//	points  numPoints x 3 float32
//	nodes   numNodes  x (6 float32 box, i32 rightChild, i32 start, i32 count)
//	prims   numPrims  x u32
const (
	payloadHeaderSize = 12
	pointSize         = 12
	nodeSize          = 36
)

func encodeBatch(b *BatchSource) []byte {
	size := payloadHeaderSize + len(b.Points)*pointSize + len(b.Nodes)*nodeSize + len(b.Prims)*4
	out := make([]byte, 0, size)

	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.Points)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.Nodes)))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.Prims)))

	for _, p := range b.Points {
		out = appendVec3(out, p)
	}

	for _, n := range b.Nodes {
		out = appendVec3(out, n.Box.Min)
		out = appendVec3(out, n.Box.Max)
		out = binary.LittleEndian.AppendUint32(out, uint32(n.RightChild))
		out = binary.LittleEndian.AppendUint32(out, uint32(n.Start))
		out = binary.LittleEndian.AppendUint32(out, uint32(n.Count))
	}

	for _, p := range b.Prims {
		out = binary.LittleEndian.AppendUint32(out, p)
	}

	return out
}

func decodeBatch(payload []byte) (*BatchSource, error) {
	if len(payload) < payloadHeaderSize {
		return nil, errors.New("payload too small for header")
	}

	numPoints := int(binary.LittleEndian.Uint32(payload[0:]))
	numNodes := int(binary.LittleEndian.Uint32(payload[4:]))
	numPrims := int(binary.LittleEndian.Uint32(payload[8:]))

	want := payloadHeaderSize + numPoints*pointSize + numNodes*nodeSize + numPrims*4
	if len(payload) != want {
		return nil, fmt.Errorf("payload is %d bytes, header implies %d", len(payload), want)
	}

	b := &BatchSource{
		Points: make([]geom.Vec3, numPoints),
		Nodes:  make([]accel.Node, numNodes),
		Prims:  make([]uint32, numPrims),
	}

	off := payloadHeaderSize
	for i := range b.Points {
		b.Points[i] = readVec3(payload[off:])
		off += pointSize
	}

	for i := range b.Nodes {
		b.Nodes[i] = accel.Node{
			Box: geom.Aabb{
				Min: readVec3(payload[off:]),
				Max: readVec3(payload[off+12:]),
			},
			RightChild: int32(binary.LittleEndian.Uint32(payload[off+24:])),
			Start:      int32(binary.LittleEndian.Uint32(payload[off+28:])),
			Count:      int32(binary.LittleEndian.Uint32(payload[off+32:])),
		}
		off += nodeSize
	}

	for i := range b.Prims {
		b.Prims[i] = binary.LittleEndian.Uint32(payload[off:])
		off += 4
	}

	return b, nil
}

func appendVec3(out []byte, v geom.Vec3) []byte {
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v.X))
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v.Y))
	out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v.Z))
	return out
}

func readVec3(data []byte) geom.Vec3 {
	return geom.Vec3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(data[0:])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(data[4:])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(data[8:])),
	}
}

func writeBlob(ctx context.Context, store blobstore.BlobStore, name string, data []byte, rc *resource.Controller) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}

	var dst io.Writer = w
	if rc != nil {
		dst = resource.NewThrottledWriter(w, rc, ctx)
	}

	if _, err := dst.Write(data); err != nil {
		w.Close()
		return err
	}

	return w.Close()
}

func readBlob(ctx context.Context, store blobstore.BlobStore, name string, rc *resource.Controller) ([]byte, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	if m, ok := blob.(blobstore.Mappable); ok {
		data, err := m.Bytes()
		if err == nil {
			if err := rc.AcquireCopy(ctx, len(data)); err != nil {
				return nil, err
			}
			// Copy out: the mapping dies with the blob handle.
			out := make([]byte, len(data))
			copy(out, data)
			return out, nil
		}
	}

	// Remote blobs stream the whole range in one request; the rest read
	// through ReadAt.
	var src io.Reader
	if rr, ok := blob.(blobstore.RangeReader); ok {
		body, err := rr.ReadRange(0, blob.Size())
		if err != nil {
			return nil, err
		}
		defer body.Close()
		src = body
	} else {
		src = io.NewSectionReader(blob, 0, blob.Size())
	}

	if rc != nil {
		src = resource.NewThrottledReader(src, rc, ctx)
	}

	out := make([]byte, blob.Size())
	if _, err := io.ReadFull(src, out); err != nil {
		return nil, err
	}

	return out, nil
}
