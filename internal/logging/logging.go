// Package logging centralizes the package-scoped logger construction used
// throughout the coordinator, mirroring the one-logger-per-package idiom the
// rest of this repository follows.
package logging

import (
	logging "github.com/op/go-logging"
)

// Get returns a package-scoped logger for name. Callers assign the result to
// a package-level var:
//
//	var log = logging.Get("replication")
func Get(name string) *logging.Logger {
	return logging.MustGetLogger(name)
}
