package rangesync

import (
	"go.uber.org/zap"

	"github.com/RanaUbaidullah/negentropy/types"
)

// HexField returns a zap field with an abbreviated hex rendering of an id
// or fingerprint prefix.
func HexField(name string, k types.KeyBytes) zap.Field {
	return zap.String(name, k.ShortString())
}
