package api

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"kanban-api/domain"
)

// memStore is a minimal in-memory domain.Store for handler tests.
type memStore struct {
	mu     sync.Mutex
	boards map[string]domain.Board
	lists  map[string]domain.List
	cards  map[string]domain.Card
}

func newMemStore() *memStore {
	return &memStore{
		boards: map[string]domain.Board{},
		lists:  map[string]domain.List{},
		cards:  map[string]domain.Card{},
	}
}

func (m *memStore) GetBoard(_ context.Context, id string) (*domain.Board, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.boards[id]
	if !ok {
		return nil, nil
	}
	b.Lists = append([]string{}, b.Lists...)
	b.Members = append([]string(nil), b.Members...)
	return &b, nil
}

func (m *memStore) SaveBoard(_ context.Context, b domain.Board) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Lists = append([]string{}, b.Lists...)
	m.boards[b.ID] = b
	return nil
}

func (m *memStore) DeleteBoard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.boards, id)
	return nil
}

func (m *memStore) GetList(_ context.Context, id string) (*domain.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[id]
	if !ok {
		return nil, nil
	}
	l.Cards = append([]string{}, l.Cards...)
	return &l, nil
}

func (m *memStore) SaveList(_ context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.Cards = append([]string{}, l.Cards...)
	m.lists[l.ID] = l
	return nil
}

func (m *memStore) DeleteList(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.lists, id)
	return nil
}

func (m *memStore) ListsByBoard(_ context.Context, boardID string) ([]domain.List, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.List
	for _, l := range m.lists {
		if l.BoardID == boardID {
			l.Cards = append([]string{}, l.Cards...)
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) GetCard(_ context.Context, id string) (*domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *memStore) SaveCard(_ context.Context, c domain.Card) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cards[c.ID] = c
	return nil
}

func (m *memStore) DeleteCard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cards, id)
	return nil
}

func (m *memStore) CardsByList(_ context.Context, boardID, listID string) ([]domain.Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Card
	for _, c := range m.cards {
		if c.BoardID == boardID && c.ListID == listID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// cardTitles returns the card titles of a list in display order.
func (m *memStore) cardTitles(listID string) []string {
	m.mu.Lock()
	var cards []domain.Card
	for _, c := range m.cards {
		if c.ListID == listID {
			cards = append(cards, c)
		}
	}
	m.mu.Unlock()
	sort.Slice(cards, func(i, j int) bool { return cards[i].Order < cards[j].Order })
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.Title
	}
	return out
}

// headerAuth treats "Bearer <user>" as a valid token for <user>.
type headerAuth struct{}

func (headerAuth) UserIDFromAuthHeader(h string) (string, error) {
	user, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || user == "" {
		return "", errors.New("missing authorization header")
	}
	return user, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	boards []string
	err    error
}

func (r *recordingNotifier) NotifyBoardChanged(_ context.Context, boardID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.boards = append(r.boards, boardID)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boards)
}
