package recognition

import (
	"sort"

	"github.com/trayvision/trayvision-go/internal/catalog"
)

// missingSecondMargin is the sentinel distance gap used when fewer than two
// neighbors exist; a lone candidate is treated as unambiguous.
const missingSecondMargin = 1.0

// Gate converts the best and second-best match distances into a per-instance
// decision. The unknown check runs before the margin check, so a very poor
// but unambiguous match is still UNKNOWN, never AUTO.
func Gate(d1, d2, unknownThreshold, marginThreshold float64) (DecisionState, float64) {
	margin := d2 - d1
	switch {
	case d1 > unknownThreshold:
		return DecisionUnknown, margin
	case margin < marginThreshold:
		return DecisionReview, margin
	default:
		return DecisionAuto, margin
	}
}

// GateNeighbors applies Gate to a ranked neighbor list, supplying the
// sentinel second distance when the list has fewer than two entries. An
// empty list is UNKNOWN.
func GateNeighbors(neighbors []catalog.Neighbor, unknownThreshold, marginThreshold float64) (DecisionState, float64) {
	if len(neighbors) == 0 {
		return DecisionUnknown, 0
	}
	d1 := neighbors[0].Distance
	d2 := d1 + missingSecondMargin
	if len(neighbors) > 1 {
		d2 = neighbors[1].Distance
	}
	return Gate(d1, d2, unknownThreshold, marginThreshold)
}

// Aggregate combines per-instance decisions into one session-level decision
// and the billable item tally. Precedence:
//  1. no instances -> UNKNOWN
//  2. all UNKNOWN -> UNKNOWN
//  3. any non-AUTO -> REVIEW
//  4. all AUTO -> AUTO
//
// UNKNOWN instances are excluded from the tally; they cannot be billed.
func Aggregate(instances []Instance) (DecisionState, []ItemCount) {
	if len(instances) == 0 {
		return DecisionUnknown, nil
	}

	allUnknown := true
	allAuto := true
	for i := range instances {
		switch instances[i].State {
		case DecisionUnknown:
			allAuto = false
		case DecisionAuto:
			allUnknown = false
		default:
			allUnknown = false
			allAuto = false
		}
	}

	items := tallyItems(instances)
	switch {
	case allUnknown:
		return DecisionUnknown, items
	case allAuto:
		return DecisionAuto, items
	default:
		return DecisionReview, items
	}
}

// tallyItems sums quantities per distinct best item across AUTO and REVIEW
// instances.
func tallyItems(instances []Instance) []ItemCount {
	counts := make(map[int]int)
	for i := range instances {
		if instances[i].State == DecisionUnknown {
			continue
		}
		qty := instances[i].Qty
		if qty <= 0 {
			qty = 1
		}
		counts[instances[i].BestItemID] += qty
	}
	if len(counts) == 0 {
		return nil
	}

	items := make([]ItemCount, 0, len(counts))
	for itemID, qty := range counts {
		items = append(items, ItemCount{ItemID: itemID, Qty: qty})
	}
	sort.Slice(items, func(a, b int) bool { return items[a].ItemID < items[b].ItemID })
	return items
}
