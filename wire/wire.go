// Package wire implements the self-delimiting binary encoding used by the
// reconciliation protocol: big-endian base-128 varints, delta-encoded
// timestamps, length-prefixed id bounds and need-index bitfields.
//
// A frame is a concatenation of range records, each of the form
// bound ‖ mode ‖ body. The timestamp delta state resets at the start of
// every frame, so Reader and Writer are per-frame objects.
package wire

import (
	"errors"
	"fmt"
)

// Mode identifies the body type of a range record.
type Mode uint64

const (
	ModeSkip Mode = iota
	ModeFingerprint
	ModeIDList
	ModeIDListResponse
)

var modeNames = []string{
	"skip",
	"fingerprint",
	"idList",
	"idListResponse",
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("<unknown %02x>", uint64(m))
}

// ErrTruncated is the base error for frames that end inside a varint or a
// run of raw bytes. Use errors.Is to test for it; the wrapped message
// carries the detail. An oversized bound id length is reported with a
// plain error that does not wrap ErrTruncated.
var ErrTruncated = errors.New("frame truncated")
