// Package api hosts the HTTP server, middleware and REST handlers. Notable routes:
//   - POST /v1/index/page and /v1/index/site submit index jobs (202 {"job_id"}).
//   - GET /v1/search?query= returns ranked [{"url","description"}] results.
//   - GET /v1/jobs/{job_id}/status|result and POST .../cancel manage jobs.
//   - GET /healthz, /readyz for health checks and GET /metrics for Prometheus scraping.
//   - POST /indexs, /indexf and GET /search keep the legacy form endpoints.
package api
