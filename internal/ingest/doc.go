// Package ingest holds the domain model shared by every stage of the bulk
// ingestion pipeline: artworks, images, import batches and their per-item
// results, the batch state enum, the error taxonomy, and the collaborator
// interfaces the pipeline depends on.
package ingest
