// Package cache defines the versioned cache store: named groups, each holding
// responses keyed by their canonical request path. Two backends implement the
// Store interface. The filesystem backend lays entries out as
// StoragePath/<group>/body/<path> with a JSON metadata sidecar under
// StoragePath/<group>/meta/, using temp file + rename so readers never observe
// a partially written body. The SQLite backend keeps groups and entries in two
// tables for deployments that prefer a single file. The installer creates and
// fills groups, the reaper deletes whole groups, and the request router only
// reads.
package cache
