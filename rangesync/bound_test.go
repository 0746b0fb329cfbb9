package rangesync

import (
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RanaUbaidullah/negentropy/types"
	"github.com/RanaUbaidullah/negentropy/wire"
)

func mkItem(t *testing.T, ts uint64, id string) types.Item {
	it, err := types.NewItem(ts, types.MustParseHexKeyBytes(id))
	require.NoError(t, err)
	return it
}

func TestMinimalBound(t *testing.T) {
	const idSize = 8

	prev := mkItem(t, 1, "aa00000000000000")
	curr := mkItem(t, 2, "0000000000000000")
	b := minimalBound(&prev, &curr, idSize)
	require.Equal(t, uint64(2), b.Timestamp)
	require.Empty(t, b.ID(), "differing timestamps need no id prefix")

	prev = mkItem(t, 5, "aa00000000000000")
	curr = mkItem(t, 5, "bb00000000000000")
	b = minimalBound(&prev, &curr, idSize)
	require.Equal(t, types.MustParseHexKeyBytes("bb"), b.ID())

	prev = mkItem(t, 5, "aabbcc0000000000")
	curr = mkItem(t, 5, "aabbccdd00000000")
	b = minimalBound(&prev, &curr, idSize)
	require.Equal(t, types.MustParseHexKeyBytes("aabbccdd"), b.ID())
}

func TestMinimalBoundProperty(t *testing.T) {
	const idSize = 16
	rnd := rand.New(rand.NewSource(21))
	items := make([]types.Item, 200)
	for i := range items {
		id := make([]byte, idSize)
		rnd.Read(id)
		it, err := types.NewItem(uint64(rnd.Intn(50)), id)
		require.NoError(t, err)
		items[i] = it
	}
	slices.SortFunc(items, func(a, b types.Item) int {
		return a.Compare(&b)
	})
	for i := 1; i < len(items); i++ {
		prev, curr := &items[i-1], &items[i]
		if prev.Equal(curr) {
			continue
		}
		b := minimalBound(prev, curr, idSize)
		require.Positive(t, b.Compare(prev), "bound must be above prev")
		require.LessOrEqual(t, b.Compare(curr), 0, "bound must not exceed curr")
		require.LessOrEqual(t, len(b.ID()), idSize)
	}
}

func TestUpperBound(t *testing.T) {
	s := itemStore{idSize: 8}
	for _, it := range []struct {
		ts uint64
		id string
	}{
		{3, "cc00000000000000"},
		{1, "aa00000000000000"},
		{2, "bb00000000000000"},
		{2, "bb11000000000000"},
	} {
		require.NoError(t, s.add(it.ts, types.MustParseHexKeyBytes(it.id)))
	}
	require.NoError(t, s.seal())

	for _, tc := range []struct {
		ts   uint64
		id   string
		want int
	}{
		{0, "", 0},
		{1, "", 0},
		{1, "aa00000000000000", 1},
		{2, "", 1},
		{2, "bb", 1},
		{2, "bb00000000000000", 2},
		{2, "ff00000000000000", 3},
		{3, "cc00000000000000", 4},
		{4, "", 4},
	} {
		b, err := types.NewBound(tc.ts, types.MustParseHexKeyBytes(tc.id))
		require.NoError(t, err)
		require.Equal(t, tc.want, s.upperBound(0, &b), "bound %s", b)
	}

	b, err := types.NewBound(0, nil)
	require.NoError(t, err)
	require.Equal(t, 2, s.upperBound(2, &b), "search starts at from")
}

func TestBuildOutputSkipFiller(t *testing.T) {
	r := &Reconciler{store: itemStore{idSize: 8}, log: zap.NewNop()}
	start := mkItem(t, 10, "aa")
	end := mkItem(t, 20, "")
	r.pending = []boundOutput{{start: start, end: end, payload: []byte{0x02, 0x00}}}

	frame := r.buildOutput()
	rd := wire.NewReader(frame)

	// A gap before the first pending range materializes as a Skip record.
	b, err := rd.Bound()
	require.NoError(t, err)
	require.True(t, b.Equal(&start))
	mode, err := rd.Mode()
	require.NoError(t, err)
	require.Equal(t, wire.ModeSkip, mode)

	b, err = rd.Bound()
	require.NoError(t, err)
	require.True(t, b.Equal(&end))
	mode, err = rd.Mode()
	require.NoError(t, err)
	require.Equal(t, wire.ModeIDList, mode)
	n, err := rd.VarInt()
	require.NoError(t, err)
	require.Zero(t, n)
	require.True(t, rd.Empty())
	require.Empty(t, r.pending)
}

func TestBuildOutputNonMonotonicStops(t *testing.T) {
	r := &Reconciler{store: itemStore{idSize: 8}, log: zap.NewNop()}
	first := boundOutput{
		start:   mkItem(t, 10, ""),
		end:     mkItem(t, 20, ""),
		payload: []byte{0x02, 0x00},
	}
	earlier := boundOutput{
		start:   mkItem(t, 5, ""),
		end:     mkItem(t, 8, ""),
		payload: []byte{0x02, 0x00},
	}
	r.pending = []boundOutput{first, earlier}

	frame := r.buildOutput()
	require.NotEmpty(t, frame)
	require.Len(t, r.pending, 1, "the non-monotonic entry must wait for the next frame")

	frame = r.buildOutput()
	require.NotEmpty(t, frame)
	require.Empty(t, r.pending)
}

func TestBuildOutputFrameCap(t *testing.T) {
	r := &Reconciler{
		store:          itemStore{idSize: 8},
		frameSizeLimit: 1024,
		log:            zap.NewNop(),
	}
	big := make([]byte, 700)
	big[0] = 0x02
	r.pending = []boundOutput{
		{start: mkItem(t, 0, ""), end: mkItem(t, 10, ""), payload: big},
		{start: mkItem(t, 10, ""), end: mkItem(t, 20, ""), payload: big},
	}

	frame := r.buildOutput()
	require.NotEmpty(t, frame)
	require.LessOrEqual(t, len(frame), 1024)
	require.Len(t, r.pending, 1)

	frame = r.buildOutput()
	require.NotEmpty(t, frame)
	require.LessOrEqual(t, len(frame), 1024)
	require.Empty(t, r.pending)
}
