package rangesync

import (
	"fmt"
	"slices"
	"sort"

	"github.com/RanaUbaidullah/negentropy/types"
)

// itemStore owns the item vector. Before sealing it is append-only; sealing
// sorts the vector ascending by (timestamp, id) and freezes it.
type itemStore struct {
	idSize int
	items  []types.Item
	sealed bool
}

func (s *itemStore) add(timestamp uint64, id types.KeyBytes) error {
	if s.sealed {
		return ErrSealed
	}
	if len(id) != s.idSize {
		return fmt.Errorf("id length %d does not match session id size %d", len(id), s.idSize)
	}
	it, err := types.NewItem(timestamp, id)
	if err != nil {
		return err
	}
	s.items = append(s.items, it)
	return nil
}

func (s *itemStore) seal() error {
	if s.sealed {
		return ErrSealed
	}
	// Items tend to arrive in roughly descending order; reversing first
	// gives the sort a mostly-ascending input.
	slices.Reverse(s.items)
	slices.SortFunc(s.items, func(a, b types.Item) int {
		return a.Compare(&b)
	})
	s.sealed = true
	return nil
}

// upperBound returns the index of the first item strictly greater than the
// given bound, searching from index from onwards.
func (s *itemStore) upperBound(from int, bound *types.Item) int {
	return from + sort.Search(len(s.items)-from, func(i int) bool {
		return s.items[from+i].Compare(bound) > 0
	})
}
