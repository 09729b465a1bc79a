// Package integration provides cross-package tests for lakeforge pipelines.
// A scripted oracle drives the real capability table, orchestrator and
// state store end to end.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
