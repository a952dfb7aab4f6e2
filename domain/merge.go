package domain

import (
	"context"
	"fmt"
)

// MergeEngine moves every card of one list to the end of another.
type MergeEngine struct{ engine }

func NewMergeEngine(st Store) MergeEngine { return MergeEngine{newEngine(st)} }

// MergeLists appends the cards of sourceListID to destListID, keeping the
// relative order of both blocks, and leaves the source list empty.
func (m MergeEngine) MergeLists(ctx context.Context, sourceListID, destListID string) (*ListSnapshot, error) {
	const op = "merge lists"
	if sourceListID == destListID {
		return nil, opErr(op, KindList, sourceListID, ErrSameContainer)
	}
	src, err := m.loadList(ctx, op, sourceListID, ErrSourceNotFound)
	if err != nil {
		return nil, err
	}
	dst, err := m.loadList(ctx, op, destListID, ErrDestinationNotFound)
	if err != nil {
		return nil, err
	}
	if src.BoardID != dst.BoardID {
		return nil, opErr(op, KindList, dst.ID, ErrCrossScopeMove)
	}
	srcCards, err := m.siblingCards(ctx, src.BoardID, src.ID)
	if err != nil {
		return nil, err
	}
	dstCards, err := m.siblingCards(ctx, dst.BoardID, dst.ID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	base := len(dstCards)
	merged := make([]Card, 0, base+len(srcCards))
	merged = append(merged, dstCards...)
	for i, card := range srcCards {
		card.ListID = dst.ID
		card.Order = base + i
		card.UpdatedAt = now
		if err := m.st.SaveCard(ctx, card); err != nil {
			return nil, fmt.Errorf("%s %s into %s: save card %s: %w", op, src.ID, dst.ID, card.ID, err)
		}
		merged = append(merged, card)
	}

	dst.Cards = make([]string, 0, len(merged))
	for _, card := range merged {
		dst.Cards = append(dst.Cards, card.ID)
	}
	dst.UpdatedAt = now
	if err := m.st.SaveList(ctx, *dst); err != nil {
		return nil, fmt.Errorf("%s %s into %s: save list %s: %w", op, src.ID, dst.ID, dst.ID, err)
	}
	src.Cards = []string{}
	src.UpdatedAt = now
	if err := m.st.SaveList(ctx, *src); err != nil {
		return nil, fmt.Errorf("%s %s into %s: save list %s: %w", op, src.ID, dst.ID, src.ID, err)
	}
	return &ListSnapshot{List: *dst, Cards: merged}, nil
}
