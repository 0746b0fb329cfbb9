package wire

import (
	"fmt"

	"github.com/RanaUbaidullah/negentropy/types"
)

// Reader decodes a single frame. It keeps the delta-timestamp decoder state,
// which starts at zero for each frame.
type Reader struct {
	buf           []byte
	lastTimestamp uint64
}

// NewReader returns a Reader over the given frame bytes.
// The Reader does not copy the frame.
func NewReader(frame []byte) *Reader {
	return &Reader{buf: frame}
}

// Empty reports whether the frame has been fully consumed.
func (r *Reader) Empty() bool {
	return len(r.buf) == 0
}

// Bytes consumes and returns the next n raw bytes of the frame.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if len(r.buf) < n {
		return nil, fmt.Errorf("%w: want %d bytes, have %d", ErrTruncated, n, len(r.buf))
	}
	b := r.buf[:n]
	r.buf = r.buf[n:]
	return b, nil
}

// VarInt consumes a big-endian base-128 varint.
func (r *Reader) VarInt() (uint64, error) {
	var res uint64
	for {
		if len(r.buf) == 0 {
			return 0, fmt.Errorf("%w: premature end of varint", ErrTruncated)
		}
		b := r.buf[0]
		r.buf = r.buf[1:]
		res = res<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return res, nil
		}
	}
}

// Timestamp consumes a delta-encoded timestamp. A raw value of zero decodes
// to MaxTimestamp; any other value v decodes to v-1 plus the previously
// decoded timestamp, saturating at MaxTimestamp.
func (r *Reader) Timestamp() (uint64, error) {
	v, err := r.VarInt()
	if err != nil {
		return 0, err
	}
	ts := uint64(types.MaxTimestamp)
	if v != 0 {
		ts = v - 1
	}
	ts += r.lastTimestamp
	if ts < r.lastTimestamp {
		ts = types.MaxTimestamp
	}
	r.lastTimestamp = ts
	return ts, nil
}

// Bound consumes a range bound: a delta timestamp followed by a
// length-prefixed id prefix.
func (r *Reader) Bound() (types.Item, error) {
	ts, err := r.Timestamp()
	if err != nil {
		return types.Item{}, err
	}
	l, err := r.VarInt()
	if err != nil {
		return types.Item{}, err
	}
	if l > types.IDBufSize {
		return types.Item{}, fmt.Errorf("bound id length %d exceeds %d", l, types.IDBufSize)
	}
	id, err := r.Bytes(int(l))
	if err != nil {
		return types.Item{}, err
	}
	return types.NewBound(ts, id)
}

// Mode consumes a record mode.
func (r *Reader) Mode() (Mode, error) {
	v, err := r.VarInt()
	if err != nil {
		return 0, err
	}
	return Mode(v), nil
}
