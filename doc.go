// Package ocfl implements the version-independent core of an OCFL (Oxford
// Common File Layout) repository engine: a content-addressed, versioned
// object store persisted on a pluggable storage backend.
//
// The repository package ties together the inventory model (package
// inventory), the storage backend abstraction (package fs), storage layout
// extensions (package extension), and the version writer and mutable HEAD
// controller (package version) behind a single facade. This package holds
// types shared across all of them: version numbers, the OCFL spec tag,
// NAMASTE declarations, users, and the error taxonomy.
package ocfl
