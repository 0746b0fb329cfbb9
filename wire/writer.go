package wire

import (
	"github.com/RanaUbaidullah/negentropy/types"
)

// Writer builds a frame or record payload. It keeps the delta-timestamp
// encoder state, which starts at zero for each frame.
type Writer struct {
	buf           []byte
	lastTimestamp uint64
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes returns the accumulated output. The slice aliases the Writer's
// buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Raw appends raw bytes.
func (w *Writer) Raw(b []byte) {
	w.buf = append(w.buf, b...)
}

// VarInt appends a big-endian base-128 varint.
func (w *Writer) VarInt(v uint64) {
	w.buf = AppendVarInt(w.buf, v)
}

// AppendVarInt appends the big-endian base-128 encoding of v to buf.
// Zero encodes as a single 0x00 byte.
func AppendVarInt(buf []byte, v uint64) []byte {
	if v == 0 {
		return append(buf, 0)
	}
	var tmp [10]byte
	n := len(tmp)
	for v != 0 {
		n--
		tmp[n] = byte(v & 0x7f)
		v >>= 7
	}
	for i := n; i < len(tmp)-1; i++ {
		tmp[i] |= 0x80
	}
	return append(buf, tmp[n:]...)
}

// Timestamp appends a delta-encoded timestamp. MaxTimestamp encodes as a
// raw zero; any other value encodes as its delta from the previously
// encoded timestamp plus one. The subtraction wraps mod 2^64; the decoder
// reverses the wrap for non-decreasing sequences and saturates anything
// below its last decoded timestamp to MaxTimestamp.
func (w *Writer) Timestamp(ts uint64) {
	if ts == types.MaxTimestamp {
		w.lastTimestamp = ts
		w.VarInt(0)
		return
	}
	delta := ts - w.lastTimestamp
	w.lastTimestamp = ts
	w.VarInt(delta + 1)
}

// Bound appends a range bound: a delta timestamp followed by the bound's id
// prefix truncated to at most idSize bytes and length-prefixed.
func (w *Writer) Bound(b *types.Item, idSize int) {
	w.Timestamp(b.Timestamp)
	prefix := b.IDPrefix(idSize)
	w.VarInt(uint64(len(prefix)))
	w.Raw(prefix)
}

// Carry seeds a new Writer that continues this Writer's timestamp state.
// It is used to build a candidate record which may or may not be committed
// to the frame.
func (w *Writer) Carry() *Writer {
	return &Writer{lastTimestamp: w.lastTimestamp}
}

// Commit appends the candidate's output and adopts its timestamp state.
func (w *Writer) Commit(candidate *Writer) {
	w.buf = append(w.buf, candidate.buf...)
	w.lastTimestamp = candidate.lastTimestamp
}
