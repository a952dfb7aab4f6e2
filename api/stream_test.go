package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"kanban-api/domain"
	"kanban-api/stream"
)

func readEvent(t *testing.T, r *bufio.Reader) domain.BoardSnapshot {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var snap domain.BoardSnapshot
		if err := sonic.UnmarshalString(strings.TrimSpace(data), &snap); err != nil {
			t.Fatalf("decode event %q: %v", data, err)
		}
		return snap
	}
}

func TestStreamBoardPushesSnapshotsOnChange(t *testing.T) {
	hub := stream.NewHub()
	a := newTestAPI(t, func(cfg *Config) { cfg.Streams = hub })
	boardID, todoID, _, cards := a.seedBoard(t)

	srv := httptest.NewServer(a.e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/boards/"+boardID+"/stream?token=alice", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	r := bufio.NewReader(resp.Body)

	first := readEvent(t, r)
	if first.Board.ID != boardID || len(first.Lists[0].Cards) != 3 || first.Lists[0].Cards[0].Title != "X" {
		t.Fatalf("unexpected first snapshot: %+v", first)
	}

	rec := a.do(t, http.MethodPost, "/api/cards/"+cards["X"]+"/move", "alice", `{"destListId":"`+todoID+`","position":2}`)
	expectStatus(t, rec, http.StatusOK)
	hub.Notify(boardID)

	second := readEvent(t, r)
	if got := second.Lists[0].Cards[2].Title; got != "X" {
		t.Fatalf("expected X last after move, got %s", got)
	}
}

func TestStreamBoardRequiresMembership(t *testing.T) {
	a := newTestAPI(t, func(cfg *Config) { cfg.Streams = stream.NewHub() })
	boardID, _, _, _ := a.seedBoard(t)

	rec := a.do(t, http.MethodGet, "/api/boards/"+boardID+"/stream?token=mallory", "", "")
	expectStatus(t, rec, http.StatusForbidden)
	rec = a.do(t, http.MethodGet, "/api/boards/"+boardID+"/stream", "", "")
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestStreamBoardRepairsGapsBeforePushing(t *testing.T) {
	a := newTestAPI(t, func(cfg *Config) { cfg.Streams = stream.NewHub() })
	boardID, _, _, cards := a.seedBoard(t)

	// An interrupted delete of Y leaves X=0, Z=2.
	if err := a.st.DeleteCard(context.Background(), cards["Y"]); err != nil {
		t.Fatalf("delete card: %v", err)
	}
	before := a.notes.count()

	srv := httptest.NewServer(a.e)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/boards/"+boardID+"/stream?token=alice", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	snap := readEvent(t, bufio.NewReader(resp.Body))
	got := snap.Lists[0].Cards
	if len(got) != 2 || got[0].Title != "X" || got[1].Title != "Z" {
		t.Fatalf("unexpected cards: %+v", got)
	}
	for i, c := range got {
		if c.Order != i {
			t.Fatalf("card %s streamed with order %d at index %d", c.Title, c.Order, i)
		}
	}
	z, _ := a.st.GetCard(context.Background(), cards["Z"])
	if z.Order != 1 {
		t.Fatalf("repair not persisted, Z order %d", z.Order)
	}
	if a.notes.count() != before+1 {
		t.Fatalf("expected repair to notify")
	}
}
