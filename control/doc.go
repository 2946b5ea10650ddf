// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, debug introspection and binary stats snapshots for the
// transport engine.
//
// Provides concurrent-safe state handling primitives including:
//   - A metrics registry the socket publishes counters into
//   - Named debug probes evaluated on demand
//   - CBOR-encoded snapshots of both for export
package control
