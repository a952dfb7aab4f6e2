package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"kanban-api/domain"
)

const edmInt64 = "Edm.Int64"

// Storage implements domain.Store on three Azure tables. Boards are keyed
// PartitionKey = RowKey = board id. Lists and cards are partitioned by the
// board that owns them so a board read stays inside one partition.
type Storage struct {
	boards table
	lists  table
	cards  table
}

// table is the slice of the aztables client Storage relies on.
type table interface {
	get(ctx context.Context, pk, rk string) ([]byte, error)
	upsert(ctx context.Context, entity []byte) error
	remove(ctx context.Context, pk, rk string) error
	query(ctx context.Context, filter string) ([][]byte, error)
}

// New creates a Storage instance from the given connection string.
func New(connStr, boardsTable, listsTable, cardsTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boards: azTable{svc.NewClient(boardsTable)},
		lists:  azTable{svc.NewClient(listsTable)},
		cards:  azTable{svc.NewClient(cardsTable)},
	}, nil
}

type azTable struct {
	client *aztables.Client
}

func (t azTable) get(ctx context.Context, pk, rk string) ([]byte, error) {
	resp, err := t.client.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isStatus(err, 404) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Value, nil
}

func (t azTable) upsert(ctx context.Context, entity []byte) error {
	_, err := t.client.UpsertEntity(ctx, entity, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (t azTable) remove(ctx context.Context, pk, rk string) error {
	_, err := t.client.DeleteEntity(ctx, pk, rk, nil)
	if err != nil && !isStatus(err, 404) {
		return err
	}
	return nil
}

func (t azTable) query(ctx context.Context, filter string) ([][]byte, error) {
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var out [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Entities...)
	}
	return out, nil
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// eq builds an OData equality clause with the value quoted and escaped.
func eq(field, value string) string {
	return field + " eq '" + strings.ReplaceAll(value, "'", "''") + "'"
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type stamps struct {
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func newStamps(created, updated time.Time) stamps {
	return stamps{
		CreatedAt:     created.UnixNano(),
		CreatedAtType: edmInt64,
		UpdatedAt:     updated.UnixNano(),
		UpdatedAtType: edmInt64,
	}
}

func (s stamps) times() (time.Time, time.Time) {
	return time.Unix(0, s.CreatedAt).UTC(), time.Unix(0, s.UpdatedAt).UTC()
}

type boardEntity struct {
	entityKeys
	Title   string `json:"Title"`
	OwnerID string `json:"OwnerId"`
	Members string `json:"Members"`
	Lists   string `json:"Lists"`
	stamps
}

type listEntity struct {
	entityKeys
	Title string `json:"Title"`
	Order int    `json:"Order"`
	Cards string `json:"Cards"`
	stamps
}

type cardEntity struct {
	entityKeys
	ListID  string `json:"ListId"`
	Title   string `json:"Title"`
	Order   int    `json:"Order"`
	Payload string `json:"Payload"`
	stamps
}

// cardPayload holds the card fields the ordering engines never look at. It
// is stored as one JSON column since tables have no nested types.
type cardPayload struct {
	Description string              `json:"description,omitempty"`
	StartDate   *time.Time          `json:"startDate,omitempty"`
	DueDate     *time.Time          `json:"dueDate,omitempty"`
	Labels      []domain.Label      `json:"labels,omitempty"`
	Assignees   []string            `json:"assignees,omitempty"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	Comments    []domain.Comment    `json:"comments,omitempty"`
}

func encodeIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	return string(data), err
}

func decodeIDs(raw string) ([]string, error) {
	ids := []string{}
	if raw == "" {
		return ids, nil
	}
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func encodeBoard(b domain.Board) ([]byte, error) {
	members, err := encodeIDs(b.Members)
	if err != nil {
		return nil, err
	}
	lists, err := encodeIDs(b.Lists)
	if err != nil {
		return nil, err
	}
	return json.Marshal(boardEntity{
		entityKeys: entityKeys{PartitionKey: b.ID, RowKey: b.ID},
		Title:      b.Title,
		OwnerID:    b.OwnerID,
		Members:    members,
		Lists:      lists,
		stamps:     newStamps(b.CreatedAt, b.UpdatedAt),
	})
}

func decodeBoard(data []byte) (*domain.Board, error) {
	var ent boardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	members, err := decodeIDs(ent.Members)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		members = nil
	}
	lists, err := decodeIDs(ent.Lists)
	if err != nil {
		return nil, err
	}
	b := &domain.Board{
		ID:      ent.RowKey,
		Title:   ent.Title,
		OwnerID: ent.OwnerID,
		Members: members,
		Lists:   lists,
	}
	b.CreatedAt, b.UpdatedAt = ent.times()
	return b, nil
}

func encodeList(l domain.List) ([]byte, error) {
	cards, err := encodeIDs(l.Cards)
	if err != nil {
		return nil, err
	}
	return json.Marshal(listEntity{
		entityKeys: entityKeys{PartitionKey: l.BoardID, RowKey: l.ID},
		Title:      l.Title,
		Order:      l.Order,
		Cards:      cards,
		stamps:     newStamps(l.CreatedAt, l.UpdatedAt),
	})
}

func decodeList(data []byte) (*domain.List, error) {
	var ent listEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	cards, err := decodeIDs(ent.Cards)
	if err != nil {
		return nil, err
	}
	l := &domain.List{
		ID:      ent.RowKey,
		BoardID: ent.PartitionKey,
		Title:   ent.Title,
		Order:   ent.Order,
		Cards:   cards,
	}
	l.CreatedAt, l.UpdatedAt = ent.times()
	return l, nil
}

func encodeCard(c domain.Card) ([]byte, error) {
	payload, err := json.Marshal(cardPayload{
		Description: c.Description,
		StartDate:   c.StartDate,
		DueDate:     c.DueDate,
		Labels:      c.Labels,
		Assignees:   c.Assignees,
		Attachments: c.Attachments,
		Comments:    c.Comments,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(cardEntity{
		entityKeys: entityKeys{PartitionKey: c.BoardID, RowKey: c.ID},
		ListID:     c.ListID,
		Title:      c.Title,
		Order:      c.Order,
		Payload:    string(payload),
		stamps:     newStamps(c.CreatedAt, c.UpdatedAt),
	})
}

func decodeCard(data []byte) (*domain.Card, error) {
	var ent cardEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return nil, err
	}
	var p cardPayload
	if ent.Payload != "" {
		if err := json.Unmarshal([]byte(ent.Payload), &p); err != nil {
			return nil, err
		}
	}
	c := &domain.Card{
		ID:          ent.RowKey,
		BoardID:     ent.PartitionKey,
		ListID:      ent.ListID,
		Title:       ent.Title,
		Order:       ent.Order,
		Description: p.Description,
		StartDate:   p.StartDate,
		DueDate:     p.DueDate,
		Labels:      p.Labels,
		Assignees:   p.Assignees,
		Attachments: p.Attachments,
		Comments:    p.Comments,
	}
	c.CreatedAt, c.UpdatedAt = ent.times()
	return c, nil
}

// findByRow looks an entity up by id alone. Lists and cards are addressed
// by id everywhere in the API, so this is a cross-partition RowKey query.
func findByRow(ctx context.Context, t table, id string) ([]byte, error) {
	rows, err := t.query(ctx, eq("RowKey", id))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Storage) GetBoard(ctx context.Context, id string) (*domain.Board, error) {
	data, err := s.boards.get(ctx, id, id)
	if err != nil {
		return nil, fmt.Errorf("get board %s: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	return decodeBoard(data)
}

func (s *Storage) SaveBoard(ctx context.Context, b domain.Board) error {
	data, err := encodeBoard(b)
	if err != nil {
		return err
	}
	if err := s.boards.upsert(ctx, data); err != nil {
		return fmt.Errorf("save board %s: %w", b.ID, err)
	}
	return nil
}

func (s *Storage) DeleteBoard(ctx context.Context, id string) error {
	if err := s.boards.remove(ctx, id, id); err != nil {
		return fmt.Errorf("delete board %s: %w", id, err)
	}
	return nil
}

func (s *Storage) GetList(ctx context.Context, id string) (*domain.List, error) {
	data, err := findByRow(ctx, s.lists, id)
	if err != nil {
		return nil, fmt.Errorf("get list %s: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	return decodeList(data)
}

func (s *Storage) SaveList(ctx context.Context, l domain.List) error {
	data, err := encodeList(l)
	if err != nil {
		return err
	}
	if err := s.lists.upsert(ctx, data); err != nil {
		return fmt.Errorf("save list %s: %w", l.ID, err)
	}
	return nil
}

func (s *Storage) DeleteList(ctx context.Context, id string) error {
	l, err := s.GetList(ctx, id)
	if err != nil || l == nil {
		return err
	}
	if err := s.lists.remove(ctx, l.BoardID, id); err != nil {
		return fmt.Errorf("delete list %s: %w", id, err)
	}
	return nil
}

func (s *Storage) ListsByBoard(ctx context.Context, boardID string) ([]domain.List, error) {
	rows, err := s.lists.query(ctx, eq("PartitionKey", boardID))
	if err != nil {
		return nil, fmt.Errorf("lists of board %s: %w", boardID, err)
	}
	lists := make([]domain.List, 0, len(rows))
	for _, row := range rows {
		l, err := decodeList(row)
		if err != nil {
			return nil, err
		}
		lists = append(lists, *l)
	}
	return lists, nil
}

func (s *Storage) GetCard(ctx context.Context, id string) (*domain.Card, error) {
	data, err := findByRow(ctx, s.cards, id)
	if err != nil {
		return nil, fmt.Errorf("get card %s: %w", id, err)
	}
	if data == nil {
		return nil, nil
	}
	return decodeCard(data)
}

func (s *Storage) SaveCard(ctx context.Context, c domain.Card) error {
	data, err := encodeCard(c)
	if err != nil {
		return err
	}
	if err := s.cards.upsert(ctx, data); err != nil {
		return fmt.Errorf("save card %s: %w", c.ID, err)
	}
	return nil
}

func (s *Storage) DeleteCard(ctx context.Context, id string) error {
	c, err := s.GetCard(ctx, id)
	if err != nil || c == nil {
		return err
	}
	if err := s.cards.remove(ctx, c.BoardID, id); err != nil {
		return fmt.Errorf("delete card %s: %w", id, err)
	}
	return nil
}

// CardsByList queries the board's partition only.
func (s *Storage) CardsByList(ctx context.Context, boardID, listID string) ([]domain.Card, error) {
	rows, err := s.cards.query(ctx, eq("PartitionKey", boardID)+" and "+eq("ListId", listID))
	if err != nil {
		return nil, fmt.Errorf("cards of list %s: %w", listID, err)
	}
	cards := make([]domain.Card, 0, len(rows))
	for _, row := range rows {
		c, err := decodeCard(row)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *c)
	}
	return cards, nil
}
