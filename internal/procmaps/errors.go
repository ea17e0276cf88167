// Package procmaps parses the textual process-memory-map block that
// trails a gperftools CPU profile, expands the $build placeholder,
// and indexes dynamic libraries by address range.
package procmaps

import "github.com/jattle/pprofgo/internal/slotio"

// ErrEmptyMapsText mirrors slotio.KindEmptyMapsText: the maps text
// supplied to Parse was empty.
var ErrEmptyMapsText = slotio.ErrKind(slotio.KindEmptyMapsText)
