package types_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/RanaUbaidullah/negentropy/types"
)

func mkItem(t *testing.T, ts uint64, id string) types.Item {
	it, err := types.NewItem(ts, types.MustParseHexKeyBytes(id))
	require.NoError(t, err)
	return it
}

func TestKeyBytes(t *testing.T) {
	k := types.MustParseHexKeyBytes("0123456789abcdef")
	require.Equal(t, "0123456789abcdef", k.String())
	require.Equal(t, "0123456789", k.ShortString())
	require.Equal(t, "01", types.KeyBytes{0x01}.ShortString())

	c := k.Clone()
	require.Equal(t, k, c)
	c[0] = 0xff
	require.NotEqual(t, k, c)

	require.Negative(t, types.KeyBytes{0x01}.Compare(types.KeyBytes{0x02}))
	require.Positive(t, types.KeyBytes{0x02, 0x00}.Compare(types.KeyBytes{0x02}))
	require.Zero(t, k.Compare(k.Clone()))

	require.Len(t, types.RandomKeyBytes(16), 16)
}

func TestItemTooBig(t *testing.T) {
	_, err := types.NewItem(0, types.RandomKeyBytes(33))
	require.ErrorIs(t, err, types.ErrIDTooBig)
}

func TestItemOrder(t *testing.T) {
	a := mkItem(t, 1, "aa00")
	b := mkItem(t, 1, "aa01")
	c := mkItem(t, 2, "0000")

	require.Negative(t, a.Compare(&b))
	require.Positive(t, b.Compare(&a))
	require.Negative(t, b.Compare(&c))
	require.Zero(t, a.Compare(&a))

	// A bound with a shorter id sorts before any item sharing that prefix
	// at the same timestamp.
	prefix := mkItem(t, 1, "aa")
	require.Negative(t, prefix.Compare(&a))
	require.Positive(t, a.Compare(&prefix))
	require.False(t, prefix.Equal(&a))

	// The empty-id bound at a timestamp precedes all items at it.
	empty := mkItem(t, 2, "")
	require.Negative(t, empty.Compare(&c))
}

func TestItemID(t *testing.T) {
	it := mkItem(t, 5, "00112233445566778899aabbccddeeff")
	require.Equal(t, types.MustParseHexKeyBytes("00112233445566778899aabbccddeeff"), it.ID())
	require.Equal(t, types.MustParseHexKeyBytes("0011"), it.IDPrefix(2))
	require.Equal(t, it.ID(), it.IDPrefix(100))
	require.Equal(t, "(5, 00112233445566778899aabbccddeeff)", it.String())
}

func TestFingerprint(t *testing.T) {
	a := mkItem(t, 1, "ff00000000000000")
	b := mkItem(t, 2, "00ff000000000000")

	var fp types.Fingerprint
	fp.Update(&a)
	fp.Update(&b)
	require.Equal(t, types.MustParseHexKeyBytes("ffff000000000000"), fp.Truncate(8))

	// XOR is self-inverse: adding the same item twice cancels.
	fp.Update(&a)
	fp.Update(&a)
	require.Equal(t, types.MustParseHexKeyBytes("ffff000000000000"), fp.Truncate(8))

	fp.Update(&a)
	fp.Update(&b)
	require.Equal(t, types.EmptyFingerprint(), fp)
}
