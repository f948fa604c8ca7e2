// Package api implements the HTTP API and WebSocket server for Gray Logic Access.
//
// This package provides:
//   - The device notification endpoint (POST /api/v1/notify/{brand})
//   - Access event queries and the WebSocket live feed
//   - LiveSync triggering and device diagnostics (image proxy, raw passthrough)
//   - Middleware stack (request ID, logging, recovery, body limits, JWT auth)
//
// # Device Pushes
//
// The notification route is unauthenticated because devices cannot send
// bearer tokens. It is bounded by a concurrency throttle with a backlog and
// an overall request timeout, and it always answers with the vendor's own
// acknowledgement schema.
//
// # Security
//
// Operator routes require an HS256 JWT issued by the operator auth service.
// WebSocket connections use single-use tickets to keep tokens out of URLs.
package api
