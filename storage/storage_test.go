package storage

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"kanban-api/domain"
)

// memTable is an in-memory table understanding the "A eq 'x' and B eq 'y'"
// filters Storage issues.
type memTable struct {
	rows    map[string][]byte
	queries []string
	failGet bool
}

func newMemTable() *memTable { return &memTable{rows: map[string][]byte{}} }

func (m *memTable) get(ctx context.Context, pk, rk string) ([]byte, error) {
	if m.failGet {
		return nil, errors.New("table unavailable")
	}
	return m.rows[pk+"|"+rk], nil
}

func (m *memTable) upsert(ctx context.Context, entity []byte) error {
	var keys entityKeys
	if err := json.Unmarshal(entity, &keys); err != nil {
		return err
	}
	m.rows[keys.PartitionKey+"|"+keys.RowKey] = entity
	return nil
}

func (m *memTable) remove(ctx context.Context, pk, rk string) error {
	delete(m.rows, pk+"|"+rk)
	return nil
}

func (m *memTable) query(ctx context.Context, filter string) ([][]byte, error) {
	m.queries = append(m.queries, filter)
	keys := make([]string, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out [][]byte
	for _, k := range keys {
		var fields map[string]any
		if err := json.Unmarshal(m.rows[k], &fields); err != nil {
			return nil, err
		}
		if matches(fields, filter) {
			out = append(out, m.rows[k])
		}
	}
	return out, nil
}

func matches(fields map[string]any, filter string) bool {
	for _, clause := range strings.Split(filter, " and ") {
		field, value, ok := strings.Cut(clause, " eq ")
		if !ok {
			return false
		}
		value = strings.TrimSuffix(strings.TrimPrefix(value, "'"), "'")
		value = strings.ReplaceAll(value, "''", "'")
		if got, _ := fields[field].(string); got != value {
			return false
		}
	}
	return true
}

func newMemStorage() (*Storage, *memTable, *memTable, *memTable) {
	b, l, c := newMemTable(), newMemTable(), newMemTable()
	return &Storage{boards: b, lists: l, cards: c}, b, l, c
}

func TestStorageBoardRoundTrip(t *testing.T) {
	st, _, _, _ := newMemStorage()
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	in := domain.Board{ID: "b1", Title: "Roadmap", OwnerID: "u1", Members: []string{"u2"}, Lists: []string{"L1", "L2"}, CreatedAt: now, UpdatedAt: now.Add(time.Minute)}
	if err := st.SaveBoard(ctx, in); err != nil {
		t.Fatalf("save board: %v", err)
	}
	got, err := st.GetBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("get board: %v", err)
	}
	if got == nil || !reflect.DeepEqual(*got, in) {
		t.Fatalf("unexpected board: %#v", got)
	}
	if err := st.DeleteBoard(ctx, "b1"); err != nil {
		t.Fatalf("delete board: %v", err)
	}
	if got, err := st.GetBoard(ctx, "b1"); err != nil || got != nil {
		t.Fatalf("expected missing board, got %#v, %v", got, err)
	}
}

func TestStorageGetBoardWrapsErrors(t *testing.T) {
	st, boards, _, _ := newMemStorage()
	boards.failGet = true
	if _, err := st.GetBoard(context.Background(), "b1"); err == nil || !strings.Contains(err.Error(), "get board b1") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestStorageListsPartitionedByBoard(t *testing.T) {
	st, _, lists, _ := newMemStorage()
	ctx := context.Background()
	for _, l := range []domain.List{
		{ID: "L1", BoardID: "b1", Title: "Todo", Order: 0},
		{ID: "L2", BoardID: "b1", Title: "Done", Order: 1, Cards: []string{"c1"}},
		{ID: "L3", BoardID: "b2", Title: "Other", Order: 0},
	} {
		if err := st.SaveList(ctx, l); err != nil {
			t.Fatalf("save list: %v", err)
		}
	}
	got, err := st.ListsByBoard(ctx, "b1")
	if err != nil {
		t.Fatalf("lists by board: %v", err)
	}
	if len(got) != 2 || got[0].ID != "L1" || got[1].ID != "L2" {
		t.Fatalf("unexpected lists: %#v", got)
	}
	if got[0].Cards == nil || len(got[0].Cards) != 0 {
		t.Fatalf("expected empty non-nil membership, got %#v", got[0].Cards)
	}
	if !reflect.DeepEqual(got[1].Cards, []string{"c1"}) {
		t.Fatalf("unexpected cards: %#v", got[1].Cards)
	}
	if last := lists.queries[len(lists.queries)-1]; last != "PartitionKey eq 'b1'" {
		t.Fatalf("unexpected filter %q", last)
	}

	l, err := st.GetList(ctx, "L3")
	if err != nil || l == nil || l.BoardID != "b2" {
		t.Fatalf("get list: %#v, %v", l, err)
	}
	if err := st.DeleteList(ctx, "L3"); err != nil {
		t.Fatalf("delete list: %v", err)
	}
	if l, _ := st.GetList(ctx, "L3"); l != nil {
		t.Fatalf("list not deleted: %#v", l)
	}
	if err := st.DeleteList(ctx, "missing"); err != nil {
		t.Fatalf("delete missing list: %v", err)
	}
}

func TestStorageCardPayloadSurvives(t *testing.T) {
	st, _, _, cardRows := newMemStorage()
	ctx := context.Background()
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	in := domain.Card{
		ID: "c1", BoardID: "b1", ListID: "L1", Title: "Ship", Order: 3,
		Description: "it's done when it's done",
		DueDate:     &due,
		Labels:      []domain.Label{{Name: "urgent", Color: "red"}},
		Assignees:   []string{"u1"},
		Attachments: []domain.Attachment{{Name: "plan.pdf", URL: "https://example.test/plan.pdf"}},
		Comments:    []domain.Comment{{AuthorID: "u2", Body: "ok", CreatedAt: due}},
		CreatedAt:   due,
		UpdatedAt:   due,
	}
	if err := st.SaveCard(ctx, in); err != nil {
		t.Fatalf("save card: %v", err)
	}
	if err := st.SaveCard(ctx, domain.Card{ID: "c2", BoardID: "b1", ListID: "L2", Title: "Other", CreatedAt: due, UpdatedAt: due}); err != nil {
		t.Fatalf("save card: %v", err)
	}
	got, err := st.GetCard(ctx, "c1")
	if err != nil || got == nil {
		t.Fatalf("get card: %#v, %v", got, err)
	}
	if !reflect.DeepEqual(*got, in) {
		t.Fatalf("payload changed:\n got %#v\nwant %#v", *got, in)
	}
	cards, err := st.CardsByList(ctx, "b1", "L1")
	if err != nil {
		t.Fatalf("cards by list: %v", err)
	}
	if len(cards) != 1 || cards[0].ID != "c1" {
		t.Fatalf("unexpected cards: %#v", cards)
	}
	if last := cardRows.queries[len(cardRows.queries)-1]; last != "PartitionKey eq 'b1' and ListId eq 'L1'" {
		t.Fatalf("unexpected filter %q", last)
	}
	if other, err := st.CardsByList(ctx, "b2", "L1"); err != nil || len(other) != 0 {
		t.Fatalf("expected no cards outside the board partition, got %#v, %v", other, err)
	}
	if err := st.DeleteCard(ctx, "c1"); err != nil {
		t.Fatalf("delete card: %v", err)
	}
	if c, _ := st.GetCard(ctx, "c1"); c != nil {
		t.Fatalf("card not deleted")
	}
}

func TestEqEscapesQuotes(t *testing.T) {
	if got := eq("RowKey", "o'brien"); got != "RowKey eq 'o''brien'" {
		t.Fatalf("eq = %q", got)
	}
}

func TestDecodeListEntityFromService(t *testing.T) {
	data := []byte(`{"odata.etag":"W/1","PartitionKey":"b1","RowKey":"L1","Timestamp":"2024-01-01T00:00:00Z","Title":"Todo","Order":2,"Cards":"[\"c1\",\"c2\"]","CreatedAt@odata.type":"Edm.Int64","CreatedAt":"1000","UpdatedAt@odata.type":"Edm.Int64","UpdatedAt":"2000"}`)
	l, err := decodeList(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if l.BoardID != "b1" || l.Order != 2 || len(l.Cards) != 2 || l.CreatedAt.UnixNano() != 1000 {
		t.Fatalf("unexpected list: %#v", l)
	}
}
