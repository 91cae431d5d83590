// Package observability exposes prometheus metrics and, optionally, pprof
// over a small HTTP server.
package observability
