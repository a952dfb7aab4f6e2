package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Position is the ordering view of a card or list: its id and its slot among
// the siblings sharing its parent.
type Position struct {
	ID    string
	Order int
}

// Updates maps sibling ids to their new order. Ids whose order does not
// change are left out.
type Updates map[string]int

// CloseGap shifts every sibling after removedOrder down by one. siblings must
// no longer contain the removed entity.
func CloseGap(siblings []Position, removedOrder int) Updates {
	upd := Updates{}
	for _, s := range siblings {
		if s.Order > removedOrder {
			upd[s.ID] = s.Order - 1
		}
	}
	return upd
}

// OpenSlot makes room for a new member at target. The target is clamped to
// [0, len(siblings)] and returned; a negative target is a caller bug.
func OpenSlot(siblings []Position, target int) (Updates, int, error) {
	if target < 0 {
		return nil, 0, ErrInvalidPosition
	}
	if target > len(siblings) {
		target = len(siblings)
	}
	upd := Updates{}
	for _, s := range siblings {
		if s.Order >= target {
			upd[s.ID] = s.Order + 1
		}
	}
	return upd, target, nil
}

// ShiftWithin moves id to target inside its own sibling set. Members between
// the old and new slot step one place towards the old slot; everything else
// keeps its order. The returned updates include the moved id unless the move
// is a no-op.
func ShiftWithin(siblings []Position, id string, target int) (Updates, int, error) {
	if target < 0 {
		return nil, 0, ErrInvalidPosition
	}
	from := -1
	for _, s := range siblings {
		if s.ID == id {
			from = s.Order
			break
		}
	}
	if from < 0 {
		return nil, 0, ErrEntityNotInSource
	}
	if last := len(siblings) - 1; target > last {
		target = last
	}
	upd := Updates{}
	if target == from {
		return upd, target, nil
	}
	for _, s := range siblings {
		switch {
		case s.ID == id:
		case target < from && s.Order >= target && s.Order < from:
			upd[s.ID] = s.Order + 1
		case target > from && s.Order > from && s.Order <= target:
			upd[s.ID] = s.Order - 1
		}
	}
	upd[id] = target
	return upd, target, nil
}

// ByOrder is the default FullRenumber comparator.
func ByOrder(a, b Position) bool { return a.Order < b.Order }

// FullRenumber sorts siblings with less (ByOrder when nil), keeping input
// order for ties, and assigns 0..n-1.
func FullRenumber(siblings []Position, less func(a, b Position) bool) Updates {
	if less == nil {
		less = ByOrder
	}
	sorted := append([]Position(nil), siblings...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	upd := Updates{}
	for i, s := range sorted {
		if s.Order != i {
			upd[s.ID] = i
		}
	}
	return upd
}

// CheckDense returns ErrConsistencyRepairNeeded unless the orders are exactly
// {0..n-1}.
func CheckDense(siblings []Position) error {
	seen := make([]bool, len(siblings))
	for _, s := range siblings {
		if s.Order < 0 || s.Order >= len(siblings) || seen[s.Order] {
			return ErrConsistencyRepairNeeded
		}
		seen[s.Order] = true
	}
	return nil
}

// Apply returns a copy of siblings with upd applied.
func (u Updates) Apply(siblings []Position) []Position {
	out := make([]Position, len(siblings))
	for i, s := range siblings {
		if o, ok := u[s.ID]; ok {
			s.Order = o
		}
		out[i] = s
	}
	return out
}

// ParsePosition reads a target order from request input. JSON numbers and
// numeric strings are accepted as long as they hold a non-negative integer.
func ParsePosition(raw string) (int, error) {
	s := strings.Trim(strings.TrimSpace(raw), `"`)
	if s == "" {
		return 0, &OpError{Op: "parse", Field: "order", Err: ErrInvalidPosition}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || v != math.Trunc(v) || v < 0 || v > math.MaxInt32 {
		return 0, &OpError{Op: "parse", Field: "order", Err: ErrInvalidPosition}
	}
	return int(v), nil
}

func listPositions(lists []List) []Position {
	out := make([]Position, len(lists))
	for i, l := range lists {
		out[i] = Position{ID: l.ID, Order: l.Order}
	}
	return out
}

func cardPositions(cards []Card) []Position {
	out := make([]Position, len(cards))
	for i, c := range cards {
		out[i] = Position{ID: c.ID, Order: c.Order}
	}
	return out
}

func sortLists(lists []List) {
	sort.SliceStable(lists, func(i, j int) bool {
		if lists[i].Order != lists[j].Order {
			return lists[i].Order < lists[j].Order
		}
		return lists[i].ID < lists[j].ID
	})
}

func sortCards(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Order != cards[j].Order {
			return cards[i].Order < cards[j].Order
		}
		return cards[i].ID < cards[j].ID
	})
}
