// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"slices"

	"github.com/ronnieholm/spo-analytics/internal/domain"
)

// Order returns visits sorted by timestamp ascending. Heap enumeration does
// not preserve allocation order, so this is the only causal order available.
// Equal timestamps keep their discovery order. The input is not modified.
func Order(visits []domain.Visit) []domain.Visit {
	out := slices.Clone(visits)
	slices.SortStableFunc(out, func(a, b domain.Visit) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}
