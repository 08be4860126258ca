// Package api hosts the HTTP server, middleware, and REST handlers for the
// lookup service. Notable routes:
//   - GET /api/video-games/{certNumber} runs a lookup against every
//     registered grading service.
//   - GET /api/video-games/{certNumber}/history lists past lookups.
//   - GET /api/sources lists the registered grading services.
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
package api
