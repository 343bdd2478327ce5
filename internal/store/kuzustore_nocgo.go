//go:build !cgo

package store

import "errors"

// ErrKuzuUnavailable is returned when a KuzuDB-backed store is requested
// from a binary built without cgo.
var ErrKuzuUnavailable = errors.New("kuzu: built without cgo; use the in-memory audit store")

// NewKuzuStore requires cgo for the KuzuDB driver.
func NewKuzuStore() (Store, error) {
	return nil, ErrKuzuUnavailable
}

// NewKuzuFileStore requires cgo for the KuzuDB driver.
func NewKuzuFileStore(dbPath string) (Store, error) {
	return nil, ErrKuzuUnavailable
}
