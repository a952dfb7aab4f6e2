package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"kanban-api/domain"
)

const (
	maxBodySize   = 64 * 1024 // 64 KiB
	notifyTimeout = 5 * time.Second
)

type handlers struct {
	store   domain.Store
	boards  domain.Boards
	moves   domain.MoveEngine
	clones  domain.CloneEngine
	merges  domain.MergeEngine
	view    BoardViewer
	repair  Repairer
	perms   Permissions
	notify  Notifier
	streams Subscriber
	auth    Authenticator
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, cfg Config, logger *log.Logger) {
	if cfg.Store == nil || cfg.Auth == nil {
		panic("api.Register: store and auth are required")
	}
	h := &handlers{
		store:   cfg.Store,
		boards:  domain.NewBoards(cfg.Store),
		moves:   domain.NewMoveEngine(cfg.Store),
		clones:  domain.NewCloneEngine(cfg.Store),
		merges:  domain.NewMergeEngine(cfg.Store),
		view:    cfg.View,
		repair:  domain.NewRepairer(cfg.Store),
		perms:   cfg.Permissions,
		notify:  cfg.Notifier,
		streams: cfg.Streams,
		auth:    cfg.Auth,
	}
	if h.view == nil {
		h.view = domain.NewBoardView(cfg.Store)
	}
	if h.perms == nil {
		h.perms = MembershipPolicy{}
	}

	route := func(method, path string, fn echo.HandlerFunc) {
		mw := []echo.MiddlewareFunc{instrument(logger, path), authenticate(cfg.Auth)}
		if method != http.MethodGet {
			mw = append(mw, idempotent(cfg.Deduper))
		}
		e.Add(method, path, fn, mw...)
	}

	route(http.MethodPost, "/api/boards", h.createBoard)
	route(http.MethodGet, "/api/boards/:boardId", h.getBoard)
	route(http.MethodDelete, "/api/boards/:boardId", h.deleteBoard)
	route(http.MethodPost, "/api/boards/:boardId/members", h.addMember)
	route(http.MethodPost, "/api/boards/:boardId/lists", h.createList)

	route(http.MethodPatch, "/api/lists/:listId", h.renameList)
	route(http.MethodDelete, "/api/lists/:listId", h.deleteList)
	route(http.MethodPost, "/api/lists/:listId/move", h.moveList)
	route(http.MethodPost, "/api/lists/:listId/clone", h.cloneList)
	route(http.MethodPost, "/api/lists/:listId/merge", h.mergeList)
	route(http.MethodPost, "/api/lists/:listId/cards", h.createCard)

	route(http.MethodPatch, "/api/cards/:cardId", h.updateCard)
	route(http.MethodDelete, "/api/cards/:cardId", h.deleteCard)
	route(http.MethodPost, "/api/cards/:cardId/move", h.moveCard)

	e.GET("/api/boards/:boardId/stream", h.streamBoard)
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

type titleRequest struct {
	Title string `json:"title"`
}

type memberRequest struct {
	UserID string `json:"userId"`
}

type createListRequest struct {
	Title    string          `json:"title"`
	Position json.RawMessage `json:"position,omitempty"`
}

type moveListRequest struct {
	DestBoardID string          `json:"destBoardId,omitempty"`
	Position    json.RawMessage `json:"position"`
}

type mergeRequest struct {
	DestListID string `json:"destListId"`
}

type createCardRequest struct {
	domain.CardDraft
	Position json.RawMessage `json:"position,omitempty"`
}

type moveCardRequest struct {
	SourceListID string          `json:"sourceListId,omitempty"`
	DestListID   string          `json:"destListId"`
	Position     json.RawMessage `json:"position"`
}

// decodeBody reads a bounded JSON body. An empty body decodes as {}.
func decodeBody(c echo.Context, v any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

// optionalPosition returns nil when the position was omitted or null.
func optionalPosition(raw json.RawMessage) (*int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}
	pos, err := domain.ParsePosition(s)
	if err != nil {
		return nil, err
	}
	return &pos, nil
}

// timed runs a domain call and books its duration as store time.
func timed[T any](c echo.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := fn(c.Request().Context())
	metricsFrom(c).ObserveStore(time.Since(start))
	return v, err
}

// authorize loads the board a request targets and checks the caller may
// change it.
func (h *handlers) authorize(c echo.Context, load func(ctx context.Context) (*domain.Board, error)) (*domain.Board, error) {
	board, err := timed(c, load)
	if err != nil {
		return nil, err
	}
	metricsFrom(c).SetBoard(board.ID)
	if !h.perms.CanMutate(c.Request().Context(), userIDFrom(c), board) {
		return nil, errForbidden
	}
	return board, nil
}

// changed tells the notifiers about a committed mutation. Notification
// failures never fail the request.
func (h *handlers) changed(c echo.Context, boardID string) {
	if h.notify == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), notifyTimeout)
	defer cancel()
	if err := h.notify.NotifyBoardChanged(ctx, boardID, userIDFrom(c)); err != nil {
		log.WithField("boardId", boardID).WithError(err).Warn("notify board changed")
	}
}

func (h *handlers) boardByParam(c echo.Context) func(ctx context.Context) (*domain.Board, error) {
	id := c.Param("boardId")
	return func(ctx context.Context) (*domain.Board, error) { return h.boards.Board(ctx, id) }
}

func (h *handlers) boardOfList(c echo.Context) func(ctx context.Context) (*domain.Board, error) {
	id := c.Param("listId")
	return func(ctx context.Context) (*domain.Board, error) { return h.boards.BoardOfList(ctx, id) }
}

func (h *handlers) boardOfCard(c echo.Context) func(ctx context.Context) (*domain.Board, error) {
	id := c.Param("cardId")
	return func(ctx context.Context) (*domain.Board, error) { return h.boards.BoardOfCard(ctx, id) }
}

func (h *handlers) createBoard(c echo.Context) error {
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	board, err := timed(c, func(ctx context.Context) (*domain.Board, error) {
		return h.boards.CreateBoard(ctx, userIDFrom(c), req.Title)
	})
	if err != nil {
		return writeError(c, err)
	}
	metricsFrom(c).SetBoard(board.ID)
	h.changed(c, board.ID)
	return c.JSON(http.StatusCreated, board)
}

// getBoard renders the board. A snapshot with gaps is repaired and read again
// so callers only ever see dense orders.
func (h *handlers) getBoard(c echo.Context) error {
	board, err := timed(c, h.boardByParam(c))
	if err != nil {
		return writeError(c, err)
	}
	metricsFrom(c).SetBoard(board.ID)
	if !board.HasMember(userIDFrom(c)) {
		return writeError(c, errForbidden)
	}
	var repaired bool
	snap, err := timed(c, func(ctx context.Context) (*domain.BoardSnapshot, error) {
		s, r, err := h.denseView(ctx, board.ID)
		repaired = r
		return s, err
	})
	if err != nil {
		return writeError(c, err)
	}
	if repaired {
		h.changed(c, board.ID)
	}
	return c.JSON(http.StatusOK, snap)
}

// denseView reads the board view, repairing the board first when the view
// reports gaps. repaired is true when the store was written.
func (h *handlers) denseView(ctx context.Context, boardID string) (snap *domain.BoardSnapshot, repaired bool, err error) {
	snap, err = h.view.Get(ctx, boardID)
	if err != nil || !snap.NeedsRepair {
		return snap, false, err
	}
	log.WithField("boardId", boardID).Warn("repairing board with order gaps")
	if err := h.repair.RepairBoard(ctx, boardID); err != nil {
		return nil, false, err
	}
	snap, err = h.view.Get(ctx, boardID)
	if err != nil {
		return nil, true, err
	}
	return snap, true, nil
}

func (h *handlers) deleteBoard(c echo.Context) error {
	board, err := h.authorize(c, h.boardByParam(c))
	if err != nil {
		return writeError(c, err)
	}
	if _, err := timed(c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.boards.DeleteBoard(ctx, board.ID)
	}); err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) addMember(c echo.Context) error {
	var req memberRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardByParam(c))
	if err != nil {
		return writeError(c, err)
	}
	updated, err := timed(c, func(ctx context.Context) (*domain.Board, error) {
		return h.boards.AddMember(ctx, board.ID, strings.TrimSpace(req.UserID))
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusOK, updated)
}

func (h *handlers) createList(c echo.Context) error {
	var req createListRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	pos, err := optionalPosition(req.Position)
	if err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardByParam(c))
	if err != nil {
		return writeError(c, err)
	}
	list, err := timed(c, func(ctx context.Context) (*domain.List, error) {
		return h.boards.CreateList(ctx, board.ID, req.Title, pos)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusCreated, list)
}

func (h *handlers) renameList(c echo.Context) error {
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardOfList(c))
	if err != nil {
		return writeError(c, err)
	}
	list, err := timed(c, func(ctx context.Context) (*domain.List, error) {
		return h.boards.RenameList(ctx, c.Param("listId"), req.Title)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusOK, list)
}

func (h *handlers) deleteList(c echo.Context) error {
	board, err := h.authorize(c, h.boardOfList(c))
	if err != nil {
		return writeError(c, err)
	}
	if _, err := timed(c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.boards.DeleteList(ctx, c.Param("listId"))
	}); err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) moveList(c echo.Context) error {
	var req moveListRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	pos, err := domain.ParsePosition(string(req.Position))
	if err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardOfList(c))
	if err != nil {
		return writeError(c, err)
	}
	dest := req.DestBoardID
	if dest == "" {
		dest = board.ID
	}
	list, err := timed(c, func(ctx context.Context) (*domain.List, error) {
		return h.moves.MoveList(ctx, c.Param("listId"), board.ID, dest, pos)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusOK, list)
}

func (h *handlers) cloneList(c echo.Context) error {
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardOfList(c))
	if err != nil {
		return writeError(c, err)
	}
	snap, err := timed(c, func(ctx context.Context) (*domain.ListSnapshot, error) {
		return h.clones.CloneList(ctx, c.Param("listId"), req.Title)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusCreated, snap)
}

func (h *handlers) mergeList(c echo.Context) error {
	var req mergeRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardOfList(c))
	if err != nil {
		return writeError(c, err)
	}
	snap, err := timed(c, func(ctx context.Context) (*domain.ListSnapshot, error) {
		return h.merges.MergeLists(ctx, c.Param("listId"), req.DestListID)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusOK, snap)
}

func (h *handlers) createCard(c echo.Context) error {
	var req createCardRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	pos, err := optionalPosition(req.Position)
	if err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardOfList(c))
	if err != nil {
		return writeError(c, err)
	}
	card, err := timed(c, func(ctx context.Context) (*domain.Card, error) {
		return h.boards.CreateCard(ctx, c.Param("listId"), req.CardDraft, pos)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusCreated, card)
}

func (h *handlers) updateCard(c echo.Context) error {
	var patch domain.CardPatch
	if err := decodeBody(c, &patch); err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardOfCard(c))
	if err != nil {
		return writeError(c, err)
	}
	if patch.Comment != nil && patch.Comment.AuthorID == "" {
		patch.Comment.AuthorID = userIDFrom(c)
	}
	card, err := timed(c, func(ctx context.Context) (*domain.Card, error) {
		return h.boards.UpdateCard(ctx, c.Param("cardId"), patch)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusOK, card)
}

func (h *handlers) deleteCard(c echo.Context) error {
	board, err := h.authorize(c, h.boardOfCard(c))
	if err != nil {
		return writeError(c, err)
	}
	if _, err := timed(c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.boards.DeleteCard(ctx, c.Param("cardId"))
	}); err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) moveCard(c echo.Context) error {
	var req moveCardRequest
	if err := decodeBody(c, &req); err != nil {
		return writeError(c, err)
	}
	pos, err := domain.ParsePosition(string(req.Position))
	if err != nil {
		return writeError(c, err)
	}
	board, err := h.authorize(c, h.boardOfCard(c))
	if err != nil {
		return writeError(c, err)
	}
	cardID := c.Param("cardId")
	card, err := timed(c, func(ctx context.Context) (*domain.Card, error) {
		src := req.SourceListID
		if src == "" {
			current, err := h.store.GetCard(ctx, cardID)
			if err != nil {
				return nil, err
			}
			if current == nil {
				return nil, &domain.OpError{Op: "move card", Kind: domain.KindCard, ID: cardID, Err: domain.ErrNotFound}
			}
			src = current.ListID
		}
		return h.moves.MoveCard(ctx, cardID, src, req.DestListID, pos)
	})
	if err != nil {
		return writeError(c, err)
	}
	h.changed(c, board.ID)
	return c.JSON(http.StatusOK, card)
}
