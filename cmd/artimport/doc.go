// Package main hosts the artimport entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, batch upload and review endpoints, ad-hoc similarity
//     search, and the websocket progress stream.
//   - Batches: internal/batch.Creator stores uploads under the work dir and persists a started batch. The
//     internal/batch.Machine advances it through table-driven flows; metadata batches stop for operator approval
//     after processing, image archives run straight through to similarity sync.
//   - Scheduler: internal/scheduler ticks on a fixed interval, groups open batches by state, runs the groups
//     concurrently and the batches inside a group one at a time.
//   - Persistence & fanout: canonical JPEGs and derivatives go to the configured BlobStore (memory/local/GCS),
//     documents to Postgres, SQLite or memory, and every persisted transition is published to Pub/Sub when a
//     project is configured. Progress events are buffered and sent to log, Prometheus and websocket sinks.
//
// Operational notes:
//   - Running states are resumable: a crash mid-effect leaves the batch in its running state and the next tick
//     re-runs the same effect.
//   - Uploads, downloads and repository writes retry three times with jittered backoff.
//
// Quick checklist:
//   - Configure env vars with the ARTIMPORT_ prefix, e.g. ARTIMPORT_DATABASE_BACKEND=postgres,
//     ARTIMPORT_DATABASE_DSN, ARTIMPORT_STORAGE_BACKEND=gcs, ARTIMPORT_STORAGE_GCS_BUCKET.
//   - Run locally: go run ./cmd/artimport serve --config config.yaml
//   - One-shot processing: artimport batch create --source rijks works.json && artimport tick --until-idle
package main
