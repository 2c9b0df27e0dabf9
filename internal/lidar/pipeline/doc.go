// Package pipeline drives the simulator tick by tick and is the composition
// root of the fusion pipeline.
//
// Each tick flows through the same stages: advance the simulator, read the
// roster, collect one measurement per live agent (bounded by a timeout),
// fuse into the global frame, publish the snapshot to viewers, then persist
// it when the tick is complete or the partial policy allows. Agent teardown
// is deferred so it runs on every exit path.
//
// The pipeline owns no geometry; it delegates to collector, fusion and
// dataset.
package pipeline
