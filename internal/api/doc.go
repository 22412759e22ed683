// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sources/{source}/batches to upload a metadata file or image
//     archive, and .../batches/url to have the service download one.
//   - GET /v1/batches and /v1/batches/{source}/{ts} for batch review, with
//     state names and item messages localized through ?lang=.
//   - POST /v1/batches/{source}/{ts}/approve and /abandon for the review gate.
//   - POST /v1/uploads for ad-hoc similarity search against the index.
//   - GET /v1/progress/ws for the live progress stream.
package api
