package domain

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// MoveEngine relocates cards between lists and lists within their board.
type MoveEngine struct{ engine }

func NewMoveEngine(st Store) MoveEngine { return MoveEngine{newEngine(st)} }

// MoveCard moves a card from sourceListID to destListID at target. When both
// ids name the same list the card is reordered in place. target is clamped to
// the valid range of the destination.
func (m MoveEngine) MoveCard(ctx context.Context, cardID, sourceListID, destListID string, target int) (*Card, error) {
	const op = "move card"
	if target < 0 {
		return nil, &OpError{Op: op, Kind: KindCard, ID: cardID, Field: "order", Err: ErrInvalidPosition}
	}
	card, err := m.loadCard(ctx, op, cardID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	src, err := m.loadList(ctx, op, sourceListID, ErrSourceNotFound)
	if err != nil {
		return nil, err
	}
	dst := src
	if destListID != sourceListID {
		if dst, err = m.loadList(ctx, op, destListID, ErrDestinationNotFound); err != nil {
			return nil, err
		}
	}
	if card.ListID != src.ID {
		return nil, opErr(op, KindCard, cardID, ErrEntityNotInSource)
	}
	if src.BoardID != dst.BoardID {
		return nil, opErr(op, KindList, dst.ID, ErrCrossScopeMove)
	}

	srcCards, err := m.siblingCards(ctx, src.BoardID, src.ID)
	if err != nil {
		return nil, err
	}
	idx := cardIndex(srcCards, cardID)
	if idx < 0 {
		return nil, opErr(op, KindCard, cardID, ErrEntityNotInSource)
	}

	if src.ID == dst.ID {
		upd, slot, err := ShiftWithin(cardPositions(srcCards), cardID, target)
		if err != nil {
			return nil, &OpError{Op: op, Kind: KindCard, ID: cardID, Field: "order", Err: err}
		}
		if len(upd) == 0 {
			moved := srcCards[idx]
			return &moved, nil
		}
		if err := m.saveCards(ctx, srcCards, upd, cardID); err != nil {
			return nil, m.partial(op, cardID, err)
		}
		moved := srcCards[idx]
		moved.Order = slot
		moved.UpdatedAt = m.now().UTC()
		if err := m.st.SaveCard(ctx, moved); err != nil {
			return nil, m.partial(op, cardID, fmt.Errorf("save card %s: %w", cardID, err))
		}
		return &moved, nil
	}

	moved := srcCards[idx]
	rest := append(append([]Card(nil), srcCards[:idx]...), srcCards[idx+1:]...)
	dstCards, err := m.siblingCards(ctx, dst.BoardID, dst.ID)
	if err != nil {
		return nil, err
	}
	openUpd, slot, err := OpenSlot(cardPositions(dstCards), target)
	if err != nil {
		return nil, &OpError{Op: op, Kind: KindCard, ID: cardID, Field: "order", Err: err}
	}
	if err := m.saveCards(ctx, rest, CloseGap(cardPositions(rest), moved.Order), ""); err != nil {
		return nil, m.partial(op, cardID, err)
	}
	if err := m.saveCards(ctx, dstCards, openUpd, ""); err != nil {
		return nil, m.partial(op, cardID, err)
	}
	now := m.now().UTC()
	moved.ListID = dst.ID
	moved.Order = slot
	moved.UpdatedAt = now
	if err := m.st.SaveCard(ctx, moved); err != nil {
		return nil, m.partial(op, cardID, fmt.Errorf("save card %s: %w", cardID, err))
	}
	src.Cards = removeID(src.Cards, cardID)
	src.UpdatedAt = now
	if err := m.st.SaveList(ctx, *src); err != nil {
		return nil, m.partial(op, cardID, fmt.Errorf("save list %s: %w", src.ID, err))
	}
	dst.Cards = appendID(dst.Cards, cardID)
	dst.UpdatedAt = now
	if err := m.st.SaveList(ctx, *dst); err != nil {
		return nil, m.partial(op, cardID, fmt.Errorf("save list %s: %w", dst.ID, err))
	}
	return &moved, nil
}

// MoveList reorders a list within its board. Lists cannot change boards, so
// a destination board other than the source is a cross-scope move.
func (m MoveEngine) MoveList(ctx context.Context, listID, sourceBoardID, destBoardID string, target int) (*List, error) {
	const op = "move list"
	if target < 0 {
		return nil, &OpError{Op: op, Kind: KindList, ID: listID, Field: "order", Err: ErrInvalidPosition}
	}
	list, err := m.loadList(ctx, op, listID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	src, err := m.loadBoard(ctx, op, sourceBoardID, ErrSourceNotFound)
	if err != nil {
		return nil, err
	}
	if destBoardID != sourceBoardID {
		if _, err := m.loadBoard(ctx, op, destBoardID, ErrDestinationNotFound); err != nil {
			return nil, err
		}
	}
	if list.BoardID != src.ID {
		return nil, opErr(op, KindList, listID, ErrEntityNotInSource)
	}
	if destBoardID != sourceBoardID {
		return nil, opErr(op, KindBoard, destBoardID, ErrCrossScopeMove)
	}

	lists, err := m.siblingLists(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	idx := listIndex(lists, listID)
	if idx < 0 {
		return nil, opErr(op, KindList, listID, ErrEntityNotInSource)
	}
	upd, slot, err := ShiftWithin(listPositions(lists), listID, target)
	if err != nil {
		return nil, &OpError{Op: op, Kind: KindList, ID: listID, Field: "order", Err: err}
	}
	moved := lists[idx]
	if len(upd) == 0 {
		return &moved, nil
	}
	if err := m.saveLists(ctx, lists, upd, listID); err != nil {
		return nil, m.partial(op, listID, err)
	}
	moved.Order = slot
	moved.UpdatedAt = m.now().UTC()
	if err := m.st.SaveList(ctx, moved); err != nil {
		return nil, m.partial(op, listID, fmt.Errorf("save list %s: %w", listID, err))
	}
	return &moved, nil
}

// partial logs a failure that happened after some records were written.
// Nothing is rolled back; the next read of the affected set renumbers it.
func (m MoveEngine) partial(op, id string, err error) error {
	log.WithError(err).WithFields(log.Fields{"op": op, "entity": id}).Error("move interrupted, sibling order left for repair")
	return fmt.Errorf("%s %s: %w", op, id, err)
}
