// Package types defines the value types shared by the reconciliation
// protocol packages: set items, range bounds and XOR fingerprints.
package types

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap/zapcore"
)

const (
	// MinIDSize is the smallest id length negotiable for a session.
	MinIDSize = 8
	// MaxIDSize is the largest id length negotiable for a session.
	MaxIDSize = 32
	// IDBufSize is the fixed width of the padded id buffer backing each
	// item. Ids shorter than IDBufSize are zero-padded on the right, which
	// makes XOR over a range a fixed-width loop regardless of the session
	// id size.
	IDBufSize = 32
)

// MaxTimestamp is the largest representable item timestamp. It doubles as
// the upper bound of the whole item domain.
const MaxTimestamp = math.MaxUint64

// ErrIDTooBig is returned when an id longer than IDBufSize is used to
// construct an item or bound.
var ErrIDTooBig = errors.New("id too big")

// KeyBytes represents an item id or id prefix.
type KeyBytes []byte

// String implements fmt.Stringer.
func (k KeyBytes) String() string {
	return hex.EncodeToString(k)
}

// ShortString returns an abbreviated hex representation for logging.
func (k KeyBytes) ShortString() string {
	if len(k) < 5 {
		return k.String()
	}
	return hex.EncodeToString(k[:5])
}

// Clone returns a copy of the key.
func (k KeyBytes) Clone() KeyBytes {
	return slices.Clone(k)
}

// Compare compares two keys lexicographically.
func (k KeyBytes) Compare(other KeyBytes) int {
	return bytes.Compare(k, other)
}

// RandomKeyBytes generates random data in bytes for testing.
func RandomKeyBytes(size int) KeyBytes {
	b := make([]byte, size)
	_, err := rand.Read(b)
	if err != nil {
		return nil
	}
	return b
}

// MustParseHexKeyBytes converts a hex string to KeyBytes.
func MustParseHexKeyBytes(s string) KeyBytes {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("bad hex key bytes: " + err.Error())
	}
	return KeyBytes(b)
}

// Item is an element of a reconciliable set, ordered by (timestamp, id).
//
// The same type represents range bounds on the wire: a bound's id may be
// shorter than the session id size, in which case it denotes the least item
// at the bound's timestamp whose id has the bound's id as a prefix. An item
// and a bound with ids of different lengths never compare equal.
type Item struct {
	Timestamp uint64
	id        [IDBufSize]byte
	idLen     uint8
}

// NewItem creates an item with the given timestamp and id.
// The id is copied into the item's padded buffer.
func NewItem(timestamp uint64, id KeyBytes) (Item, error) {
	if len(id) > IDBufSize {
		return Item{}, ErrIDTooBig
	}
	it := Item{Timestamp: timestamp, idLen: uint8(len(id))}
	copy(it.id[:], id)
	return it, nil
}

// NewBound creates a range bound with the given timestamp and id prefix.
// It is the same operation as NewItem under a name matching its use.
func NewBound(timestamp uint64, prefix KeyBytes) (Item, error) {
	return NewItem(timestamp, prefix)
}

// ID returns the item's id at its logical length.
// The returned slice aliases the item's buffer and must not be modified.
func (it *Item) ID() KeyBytes {
	return KeyBytes(it.id[:it.idLen])
}

// IDPrefix returns at most n leading bytes of the item's id.
func (it *Item) IDPrefix(n int) KeyBytes {
	if n > int(it.idLen) {
		n = int(it.idLen)
	}
	return KeyBytes(it.id[:n])
}

// Compare orders items by (timestamp, id) with lexicographic id comparison
// at logical lengths.
func (it *Item) Compare(other *Item) int {
	if it.Timestamp != other.Timestamp {
		if it.Timestamp < other.Timestamp {
			return -1
		}
		return 1
	}
	return bytes.Compare(it.ID(), other.ID())
}

// Equal reports whether two items have the same timestamp and the same id
// at the same logical length.
func (it *Item) Equal(other *Item) bool {
	return it.Timestamp == other.Timestamp && bytes.Equal(it.ID(), other.ID())
}

// String implements fmt.Stringer.
func (it Item) String() string {
	return fmt.Sprintf("(%d, %s)", it.Timestamp, it.ID())
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (it *Item) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("timestamp", it.Timestamp)
	enc.AddString("id", it.ID().ShortString())
	return nil
}

// Fingerprint is the XOR accumulator over the padded id buffers of a range
// of items. The padding cancels between peers, so only the leading id-size
// bytes are ever put on the wire.
type Fingerprint [IDBufSize]byte

// Update XORs the item's padded id into the fingerprint.
func (fp *Fingerprint) Update(it *Item) {
	for i := range fp {
		fp[i] ^= it.id[i]
	}
}

// Truncate returns the leading n bytes of the fingerprint.
func (fp *Fingerprint) Truncate(n int) KeyBytes {
	return KeyBytes(fp[:n])
}

// String implements fmt.Stringer.
func (fp Fingerprint) String() string {
	return hex.EncodeToString(fp[:])
}

// EmptyFingerprint returns the fingerprint of an empty range.
func EmptyFingerprint() Fingerprint {
	return Fingerprint{}
}
