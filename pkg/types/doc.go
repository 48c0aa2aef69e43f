// Package types holds the pure value types shared across the bucket
// routing core: per-backend capacity samples and the size limits the
// weight function is evaluated against. Nothing in this package does I/O.
package types
