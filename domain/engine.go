package domain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// engine carries what every ordering operation needs: the store plus clock
// and id sources that tests can pin.
type engine struct {
	st    Store
	now   func() time.Time
	newID func() string
}

func newEngine(st Store) engine {
	if st == nil {
		panic("domain: store is nil")
	}
	return engine{st: st, now: time.Now, newID: uuid.NewString}
}

// siblingCards loads the cards of a list sorted by order. A set that is not
// dense is renumbered and persisted before it is returned.
func (e engine) siblingCards(ctx context.Context, boardID, listID string) ([]Card, error) {
	cards, err := e.st.CardsByList(ctx, boardID, listID)
	if err != nil {
		return nil, fmt.Errorf("load cards of list %s: %w", listID, err)
	}
	if CheckDense(cardPositions(cards)) != nil {
		log.WithFields(log.Fields{"list": listID, "cards": len(cards)}).Warn("card order not dense, renumbering")
		if cards, err = e.renumberCards(ctx, cards); err != nil {
			return nil, err
		}
	}
	sortCards(cards)
	return cards, nil
}

// siblingLists is siblingCards for the lists of a board.
func (e engine) siblingLists(ctx context.Context, boardID string) ([]List, error) {
	lists, err := e.st.ListsByBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load lists of board %s: %w", boardID, err)
	}
	if CheckDense(listPositions(lists)) != nil {
		log.WithFields(log.Fields{"board": boardID, "lists": len(lists)}).Warn("list order not dense, renumbering")
		if lists, err = e.renumberLists(ctx, lists); err != nil {
			return nil, err
		}
	}
	sortLists(lists)
	return lists, nil
}

// renumberCards assigns 0..n-1 by current order, falling back to creation
// time for duplicates.
func (e engine) renumberCards(ctx context.Context, cards []Card) ([]Card, error) {
	sort.SliceStable(cards, func(i, j int) bool { return cards[i].CreatedAt.Before(cards[j].CreatedAt) })
	upd := FullRenumber(cardPositions(cards), nil)
	if err := e.saveCards(ctx, cards, upd, ""); err != nil {
		return nil, err
	}
	return cards, nil
}

func (e engine) renumberLists(ctx context.Context, lists []List) ([]List, error) {
	sort.SliceStable(lists, func(i, j int) bool { return lists[i].CreatedAt.Before(lists[j].CreatedAt) })
	upd := FullRenumber(listPositions(lists), nil)
	if err := e.saveLists(ctx, lists, upd, ""); err != nil {
		return nil, err
	}
	return lists, nil
}

// saveCards applies upd to cards in place and persists every card it
// changed, except skip.
func (e engine) saveCards(ctx context.Context, cards []Card, upd Updates, skip string) error {
	if len(upd) == 0 {
		return nil
	}
	now := e.now().UTC()
	for i := range cards {
		o, ok := upd[cards[i].ID]
		if !ok {
			continue
		}
		cards[i].Order = o
		if cards[i].ID == skip {
			continue
		}
		cards[i].UpdatedAt = now
		if err := e.st.SaveCard(ctx, cards[i]); err != nil {
			return fmt.Errorf("save card %s: %w", cards[i].ID, err)
		}
	}
	return nil
}

func (e engine) saveLists(ctx context.Context, lists []List, upd Updates, skip string) error {
	if len(upd) == 0 {
		return nil
	}
	now := e.now().UTC()
	for i := range lists {
		o, ok := upd[lists[i].ID]
		if !ok {
			continue
		}
		lists[i].Order = o
		if lists[i].ID == skip {
			continue
		}
		lists[i].UpdatedAt = now
		if err := e.st.SaveList(ctx, lists[i]); err != nil {
			return fmt.Errorf("save list %s: %w", lists[i].ID, err)
		}
	}
	return nil
}

func (e engine) loadBoard(ctx context.Context, op, id string, missing error) (*Board, error) {
	b, err := e.st.GetBoard(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: load board %s: %w", op, id, err)
	}
	if b == nil {
		return nil, opErr(op, KindBoard, id, missing)
	}
	return b, nil
}

func (e engine) loadList(ctx context.Context, op, id string, missing error) (*List, error) {
	l, err := e.st.GetList(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: load list %s: %w", op, id, err)
	}
	if l == nil {
		return nil, opErr(op, KindList, id, missing)
	}
	return l, nil
}

func (e engine) loadCard(ctx context.Context, op, id string, missing error) (*Card, error) {
	c, err := e.st.GetCard(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: load card %s: %w", op, id, err)
	}
	if c == nil {
		return nil, opErr(op, KindCard, id, missing)
	}
	return c, nil
}

func cardIndex(cards []Card, id string) int {
	for i := range cards {
		if cards[i].ID == id {
			return i
		}
	}
	return -1
}

func listIndex(lists []List, id string) int {
	for i := range lists {
		if lists[i].ID == id {
			return i
		}
	}
	return -1
}
