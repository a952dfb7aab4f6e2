package domain

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// BoardSnapshot is a board with its lists and their cards, each level sorted
// by its own order field.
type BoardSnapshot struct {
	Board Board          `json:"board"`
	Lists []ListSnapshot `json:"lists"`
	// NeedsRepair is set when some sibling set in the snapshot was not dense.
	NeedsRepair bool `json:"-"`
}

type ListSnapshot struct {
	List  List   `json:"list"`
	Cards []Card `json:"cards"`
}

// BoardView assembles read-only board snapshots.
type BoardView struct{ engine }

func NewBoardView(st Store) BoardView { return BoardView{newEngine(st)} }

// Get returns the ordered snapshot of a board. It never writes.
func (v BoardView) Get(ctx context.Context, boardID string) (*BoardSnapshot, error) {
	board, err := v.loadBoard(ctx, "view board", boardID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	lists, err := v.st.ListsByBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("view board %s: load lists: %w", boardID, err)
	}
	snap := &BoardSnapshot{Board: *board, Lists: make([]ListSnapshot, 0, len(lists))}
	if CheckDense(listPositions(lists)) != nil {
		snap.NeedsRepair = true
	}
	sortLists(lists)
	for _, l := range lists {
		cards, err := v.st.CardsByList(ctx, boardID, l.ID)
		if err != nil {
			return nil, fmt.Errorf("view board %s: load cards of list %s: %w", boardID, l.ID, err)
		}
		if CheckDense(cardPositions(cards)) != nil {
			snap.NeedsRepair = true
		}
		sortCards(cards)
		if cards == nil {
			cards = []Card{}
		}
		snap.Lists = append(snap.Lists, ListSnapshot{List: l, Cards: cards})
	}
	return snap, nil
}

// Repairer renumbers sibling sets left non-dense by interrupted writes and
// realigns the parents' membership sets with the children that point at them.
type Repairer struct{ engine }

func NewRepairer(st Store) Repairer { return Repairer{newEngine(st)} }

// RepairBoard fixes the lists of a board and the cards of every list.
func (r Repairer) RepairBoard(ctx context.Context, boardID string) error {
	board, err := r.loadBoard(ctx, "repair board", boardID, ErrNotFound)
	if err != nil {
		return err
	}
	lists, err := r.siblingLists(ctx, boardID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(lists))
	for _, l := range lists {
		ids = append(ids, l.ID)
	}
	if !sameMembers(board.Lists, ids) {
		board.Lists = ids
		board.UpdatedAt = r.now().UTC()
		if err := r.st.SaveBoard(ctx, *board); err != nil {
			return fmt.Errorf("repair board %s: save board: %w", boardID, err)
		}
	}
	for _, l := range lists {
		cards, err := r.siblingCards(ctx, boardID, l.ID)
		if err != nil {
			return err
		}
		cardIDs := make([]string, 0, len(cards))
		for _, c := range cards {
			cardIDs = append(cardIDs, c.ID)
		}
		if sameMembers(l.Cards, cardIDs) {
			continue
		}
		l.Cards = cardIDs
		l.UpdatedAt = r.now().UTC()
		if err := r.st.SaveList(ctx, l); err != nil {
			return fmt.Errorf("repair board %s: save list %s: %w", boardID, l.ID, err)
		}
	}
	log.WithField("board", boardID).Info("board order repaired")
	return nil
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
