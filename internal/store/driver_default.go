//go:build !(sqlite_vec && cgo)

package store

import (
	_ "modernc.org/sqlite"
)

// Default builds use the pure-Go modernc driver; no cgo toolchain needed.
const driverName = "sqlite"
