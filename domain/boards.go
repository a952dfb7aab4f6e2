package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CardDraft carries the fields of a card being created.
type CardDraft struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	StartDate   *time.Time   `json:"startDate,omitempty"`
	DueDate     *time.Time   `json:"dueDate,omitempty"`
	Labels      []Label      `json:"labels,omitempty"`
	Assignees   []string     `json:"assignees,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// CardPatch carries a partial payload update. Nil fields are left alone.
type CardPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	StartDate   *time.Time    `json:"startDate,omitempty"`
	DueDate     *time.Time    `json:"dueDate,omitempty"`
	Labels      *[]Label      `json:"labels,omitempty"`
	Assignees   *[]string     `json:"assignees,omitempty"`
	Attachments *[]Attachment `json:"attachments,omitempty"`
	Comment     *Comment      `json:"comment,omitempty"`
}

// Boards covers creating, editing and deleting boards, lists and cards while
// keeping every sibling set dense.
type Boards struct{ engine }

func NewBoards(st Store) Boards { return Boards{newEngine(st)} }

func (b Boards) CreateBoard(ctx context.Context, ownerID, title string) (*Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &OpError{Op: "create board", Kind: KindBoard, Field: "title", Err: ErrInvalidField}
	}
	now := b.now().UTC()
	board := Board{
		ID:        b.newID(),
		Title:     title,
		OwnerID:   ownerID,
		Lists:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.st.SaveBoard(ctx, board); err != nil {
		return nil, fmt.Errorf("create board: %w", err)
	}
	return &board, nil
}

// Board loads a board or returns ErrNotFound.
func (b Boards) Board(ctx context.Context, id string) (*Board, error) {
	return b.loadBoard(ctx, "load board", id, ErrNotFound)
}

// BoardOfList resolves the board a list belongs to.
func (b Boards) BoardOfList(ctx context.Context, listID string) (*Board, error) {
	l, err := b.loadList(ctx, "load list", listID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	return b.loadBoard(ctx, "load list", l.BoardID, ErrNotFound)
}

// BoardOfCard resolves the board a card belongs to.
func (b Boards) BoardOfCard(ctx context.Context, cardID string) (*Board, error) {
	c, err := b.loadCard(ctx, "load card", cardID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	return b.loadBoard(ctx, "load card", c.BoardID, ErrNotFound)
}

// AddMember grants userID access to the board. Adding an existing member is a
// no-op.
func (b Boards) AddMember(ctx context.Context, boardID, userID string) (*Board, error) {
	const op = "add member"
	if strings.TrimSpace(userID) == "" {
		return nil, &OpError{Op: op, Kind: KindBoard, ID: boardID, Field: "userId", Err: ErrInvalidField}
	}
	board, err := b.loadBoard(ctx, op, boardID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	if board.HasMember(userID) {
		return board, nil
	}
	board.Members = append(board.Members, userID)
	board.UpdatedAt = b.now().UTC()
	if err := b.st.SaveBoard(ctx, *board); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, boardID, err)
	}
	return board, nil
}

// DeleteBoard removes the board with all of its lists and cards.
func (b Boards) DeleteBoard(ctx context.Context, boardID string) error {
	const op = "delete board"
	if _, err := b.loadBoard(ctx, op, boardID, ErrNotFound); err != nil {
		return err
	}
	lists, err := b.st.ListsByBoard(ctx, boardID)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, boardID, err)
	}
	for _, l := range lists {
		if err := b.deleteListCards(ctx, boardID, l.ID); err != nil {
			return fmt.Errorf("%s %s: %w", op, boardID, err)
		}
		if err := b.st.DeleteList(ctx, l.ID); err != nil {
			return fmt.Errorf("%s %s: delete list %s: %w", op, boardID, l.ID, err)
		}
	}
	if err := b.st.DeleteBoard(ctx, boardID); err != nil {
		return fmt.Errorf("%s %s: %w", op, boardID, err)
	}
	return nil
}

// CreateList adds a list to a board. A nil position appends it.
func (b Boards) CreateList(ctx context.Context, boardID, title string, position *int) (*List, error) {
	const op = "create list"
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &OpError{Op: op, Kind: KindList, Field: "title", Err: ErrInvalidField}
	}
	board, err := b.loadBoard(ctx, op, boardID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	lists, err := b.siblingLists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	target := len(lists)
	if position != nil {
		target = *position
	}
	upd, slot, err := OpenSlot(listPositions(lists), target)
	if err != nil {
		return nil, &OpError{Op: op, Kind: KindBoard, ID: boardID, Field: "order", Err: err}
	}
	if err := b.saveLists(ctx, lists, upd, ""); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := b.now().UTC()
	list := List{
		ID:        b.newID(),
		BoardID:   boardID,
		Title:     title,
		Order:     slot,
		Cards:     []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.st.SaveList(ctx, list); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	board.Lists = appendID(board.Lists, list.ID)
	board.UpdatedAt = now
	if err := b.st.SaveBoard(ctx, *board); err != nil {
		return nil, fmt.Errorf("%s: save board %s: %w", op, boardID, err)
	}
	return &list, nil
}

func (b Boards) RenameList(ctx context.Context, listID, title string) (*List, error) {
	const op = "rename list"
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &OpError{Op: op, Kind: KindList, ID: listID, Field: "title", Err: ErrInvalidField}
	}
	list, err := b.loadList(ctx, op, listID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	list.Title = title
	list.UpdatedAt = b.now().UTC()
	if err := b.st.SaveList(ctx, *list); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, listID, err)
	}
	return list, nil
}

// DeleteList removes a list and its cards and closes the gap it leaves among
// the board's lists.
func (b Boards) DeleteList(ctx context.Context, listID string) error {
	const op = "delete list"
	list, err := b.loadList(ctx, op, listID, ErrNotFound)
	if err != nil {
		return err
	}
	lists, err := b.siblingLists(ctx, list.BoardID)
	if err != nil {
		return err
	}
	idx := listIndex(lists, listID)
	if idx < 0 {
		return opErr(op, KindList, listID, ErrEntityNotInSource)
	}
	removed := lists[idx].Order
	rest := append(append([]List(nil), lists[:idx]...), lists[idx+1:]...)

	if err := b.deleteListCards(ctx, list.BoardID, listID); err != nil {
		return fmt.Errorf("%s %s: %w", op, listID, err)
	}
	if err := b.st.DeleteList(ctx, listID); err != nil {
		return fmt.Errorf("%s %s: %w", op, listID, err)
	}
	if err := b.saveLists(ctx, rest, CloseGap(listPositions(rest), removed), ""); err != nil {
		return fmt.Errorf("%s %s: %w", op, listID, err)
	}
	board, err := b.loadBoard(ctx, op, list.BoardID, ErrNotFound)
	if err != nil {
		return err
	}
	board.Lists = removeID(board.Lists, listID)
	board.UpdatedAt = b.now().UTC()
	if err := b.st.SaveBoard(ctx, *board); err != nil {
		return fmt.Errorf("%s %s: save board %s: %w", op, listID, board.ID, err)
	}
	return nil
}

func (b Boards) deleteListCards(ctx context.Context, boardID, listID string) error {
	cards, err := b.st.CardsByList(ctx, boardID, listID)
	if err != nil {
		return fmt.Errorf("load cards of list %s: %w", listID, err)
	}
	for _, c := range cards {
		if err := b.st.DeleteCard(ctx, c.ID); err != nil {
			return fmt.Errorf("delete card %s: %w", c.ID, err)
		}
	}
	return nil
}

// CreateCard adds a card to a list. A nil position appends it.
func (b Boards) CreateCard(ctx context.Context, listID string, draft CardDraft, position *int) (*Card, error) {
	const op = "create card"
	draft.Title = strings.TrimSpace(draft.Title)
	if draft.Title == "" {
		return nil, &OpError{Op: op, Kind: KindCard, Field: "title", Err: ErrInvalidField}
	}
	list, err := b.loadList(ctx, op, listID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	cards, err := b.siblingCards(ctx, list.BoardID, listID)
	if err != nil {
		return nil, err
	}
	target := len(cards)
	if position != nil {
		target = *position
	}
	upd, slot, err := OpenSlot(cardPositions(cards), target)
	if err != nil {
		return nil, &OpError{Op: op, Kind: KindList, ID: listID, Field: "order", Err: err}
	}
	if err := b.saveCards(ctx, cards, upd, ""); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := b.now().UTC()
	card := copyPayload(Card{
		Title:       draft.Title,
		Description: draft.Description,
		StartDate:   draft.StartDate,
		DueDate:     draft.DueDate,
		Labels:      draft.Labels,
		Assignees:   draft.Assignees,
		Attachments: draft.Attachments,
	})
	card.ID = b.newID()
	card.BoardID = list.BoardID
	card.ListID = listID
	card.Order = slot
	card.CreatedAt = now
	card.UpdatedAt = now
	if err := b.st.SaveCard(ctx, card); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	list.Cards = appendID(list.Cards, card.ID)
	list.UpdatedAt = now
	if err := b.st.SaveList(ctx, *list); err != nil {
		return nil, fmt.Errorf("%s: save list %s: %w", op, listID, err)
	}
	return &card, nil
}

// UpdateCard applies a payload patch. Order and parent are never touched.
func (b Boards) UpdateCard(ctx context.Context, cardID string, patch CardPatch) (*Card, error) {
	const op = "update card"
	card, err := b.loadCard(ctx, op, cardID, ErrNotFound)
	if err != nil {
		return nil, err
	}
	now := b.now().UTC()
	if patch.Title != nil {
		t := strings.TrimSpace(*patch.Title)
		if t == "" {
			return nil, &OpError{Op: op, Kind: KindCard, ID: cardID, Field: "title", Err: ErrInvalidField}
		}
		card.Title = t
	}
	if patch.Description != nil {
		card.Description = *patch.Description
	}
	if patch.StartDate != nil {
		card.StartDate = patch.StartDate
	}
	if patch.DueDate != nil {
		card.DueDate = patch.DueDate
	}
	if patch.Labels != nil {
		card.Labels = *patch.Labels
	}
	if patch.Assignees != nil {
		card.Assignees = *patch.Assignees
	}
	if patch.Attachments != nil {
		card.Attachments = *patch.Attachments
	}
	if patch.Comment != nil {
		cm := *patch.Comment
		if strings.TrimSpace(cm.Body) == "" {
			return nil, &OpError{Op: op, Kind: KindCard, ID: cardID, Field: "comment", Err: ErrInvalidField}
		}
		if cm.CreatedAt.IsZero() {
			cm.CreatedAt = now
		}
		card.Comments = append(card.Comments, cm)
	}
	card.UpdatedAt = now
	if err := b.st.SaveCard(ctx, *card); err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, cardID, err)
	}
	return card, nil
}

// DeleteCard removes a card and shifts the cards after it up by one.
func (b Boards) DeleteCard(ctx context.Context, cardID string) error {
	const op = "delete card"
	card, err := b.loadCard(ctx, op, cardID, ErrNotFound)
	if err != nil {
		return err
	}
	cards, err := b.siblingCards(ctx, card.BoardID, card.ListID)
	if err != nil {
		return err
	}
	idx := cardIndex(cards, cardID)
	if idx < 0 {
		return opErr(op, KindCard, cardID, ErrEntityNotInSource)
	}
	removed := cards[idx].Order
	rest := append(append([]Card(nil), cards[:idx]...), cards[idx+1:]...)
	if err := b.st.DeleteCard(ctx, cardID); err != nil {
		return fmt.Errorf("%s %s: %w", op, cardID, err)
	}
	if err := b.saveCards(ctx, rest, CloseGap(cardPositions(rest), removed), ""); err != nil {
		return fmt.Errorf("%s %s: %w", op, cardID, err)
	}
	list, err := b.st.GetList(ctx, card.ListID)
	if err != nil {
		return fmt.Errorf("%s %s: load list %s: %w", op, cardID, card.ListID, err)
	}
	if list == nil {
		return nil
	}
	list.Cards = removeID(list.Cards, cardID)
	list.UpdatedAt = b.now().UTC()
	if err := b.st.SaveList(ctx, *list); err != nil {
		return fmt.Errorf("%s %s: save list %s: %w", op, cardID, list.ID, err)
	}
	return nil
}
