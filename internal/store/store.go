// Package store defines shared persistence errors. The domain packages
// (event, rule, alert, escalate, feature) each declare the store
// interface they consume; the memstore and pgstore subpackages
// implement all of them over one backend.
package store

import "errors"

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")
