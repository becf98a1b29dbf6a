//go:build purego

// Pure Go SQLite driver, for builds without a C toolchain:
//
//	go build -tags purego ./...
package store

import (
	_ "modernc.org/sqlite"
)

const (
	driverName = "sqlite"
	driverType = "purego"
)
