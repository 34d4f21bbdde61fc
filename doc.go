// Package rango performs radius-bounded range search over point clouds by
// mapping the problem onto a BVH query pipeline: every point becomes a
// bounding primitive of side 2r, an acceleration structure is built and
// compacted per batch, and one probe invocation per query point walks the
// structure, verifying every coarse candidate against the exact Euclidean
// distance before recording it.
//
// Point clouds of dimensionality d are padded to the next multiple of 3 and
// split into d/3 independent 3-D projections ("batches"), each with its own
// structure. Results are dense numPrims x K rows of neighbor indices,
// sentinel-terminated; no ordering of neighbors within a row is guaranteed,
// only the set is deterministic across identical runs.
//
// # Lifecycle
//
// An Engine moves through a strict state machine:
//
//	ContextReady → GeometryBuilt → PipelineLinked → BindingTableReady →
//	Dispatched → ResultsReady → Destroyed
//
// each transition driven by one method; calling out of order returns a
// StateError.
//
//	e, err := rango.New(1.5, 50)
//	if err != nil { ... }
//	defer e.Close()
//
//	store, err := pointcloud.Read(f)
//	if err != nil { ... }
//
//	ctx := context.Background()
//	if err := e.BuildGeometry(ctx, store); err != nil { ... }
//	if err := e.LinkPipeline(ctx); err != nil { ... }
//	if err := e.BuildBindingTable(ctx); err != nil { ... }
//
//	res, err := e.Run(ctx, 0)
//	if err != nil { ... }
//	for q := 0; q < res.NumQueries; q++ {
//		fmt.Println(res.Neighbors(q))
//	}
//
// Built structure sets can be saved through any blobstore backend (local,
// in-memory, S3, MinIO) and restored into a fresh engine with
// RestoreGeometry, re-entering the lifecycle at GeometryBuilt.
//
// The engine is not safe for concurrent use. Parallelism lives below it:
// one dispatch fans out across the device's lanes, with result rows
// statically partitioned by query index.
package rango
