// Package gis is the fixed geometry/analysis surface exposed to user scripts.
// Every function is pure: inputs are never mutated and results are new values.
// Areas are square meters and lengths meters unless a units option says otherwise;
// positions are [lon, lat] in WGS84.
package gis

import (
	"errors"
	"fmt"
)

// GeometryError reports malformed or type-mismatched geometry. Index is the
// position of the offending feature in the operation's input.
type GeometryError struct {
	Op     string
	Index  int
	Reason string
	Err    error
}

func (e *GeometryError) Unwrap() error { return e.Err }

func (e *GeometryError) Error() string {
	return fmt.Sprintf("%s: feature %d: %s", e.Op, e.Index, e.Reason)
}

func geomErr(op string, idx int, format string, args ...any) *GeometryError {
	return &GeometryError{Op: op, Index: idx, Reason: fmt.Sprintf(format, args...)}
}

var ErrUnknownUnits = errors.New("unknown units")

// AsGeometryError unwraps err into a *GeometryError if it is one.
func AsGeometryError(err error) (*GeometryError, bool) {
	var ge *GeometryError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
