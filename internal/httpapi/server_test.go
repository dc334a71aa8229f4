package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hexplatoon/rivalist-go/internal/battle"
	"github.com/hexplatoon/rivalist-go/internal/challenge"
	"github.com/hexplatoon/rivalist-go/internal/sched"
	"github.com/hexplatoon/rivalist-go/internal/scoring"
	"github.com/hexplatoon/rivalist-go/internal/store"
	"github.com/hexplatoon/rivalist-go/internal/users"
)

type stubDirectory struct{}

func (stubDirectory) FindUser(_ context.Context, username string) (*users.UserRef, error) {
	switch username {
	case "alice", "bob", "carol":
		return &users.UserRef{ID: 1, Username: username}, nil
	}
	return nil, users.ErrNotFound
}

func (stubDirectory) AreFriends(_ context.Context, a, b string) (bool, error) {
	return a != "carol" && b != "carol", nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	st, err := store.Open(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	scores := scoring.NewDispatcher()
	scores.Register(scoring.CategoryTyping, scoring.NewTypingScorer(5))
	sc := sched.New()
	t.Cleanup(sc.Stop)

	battles := battle.NewRegistry(st, sc, scores, nil, nil, nil, battle.Config{
		ReadinessTimeout: time.Hour,
		DefaultDuration:  time.Hour,
	})
	t.Cleanup(battles.Stop)
	challenges := challenge.NewManager(st, stubDirectory{}, battles, scores, nil, nil, time.Minute)
	return NewServer(challenges, battles, NewHub(), "sekrit")
}

func doJSON(t *testing.T, s *Server, method, path, username, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if username != "" {
		req.Header.Set(identityHeader, username)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t)
	rec, _ := doJSON(t, s, http.MethodPost, "/api/challenges", "", `{"recipient":"bob","category":"TYPING"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestChallengeFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/api/challenges", "alice", `{"recipient":"bob","category":"TYPING"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	id, _ := body["id"].(string)
	if id == "" || body["status"] != "PENDING" {
		t.Fatalf("unexpected body: %v", body)
	}

	// Duplicate pair conflicts.
	rec, _ = doJSON(t, s, http.MethodPost, "/api/challenges", "bob", `{"recipient":"alice","category":"TYPING"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", rec.Code)
	}

	// Recipient sees it pending.
	rec, _ = doJSON(t, s, http.MethodGet, "/api/challenges/pending/received", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("expected one pending challenge, got %s", rec.Body.String())
	}

	// Sender cannot accept.
	rec, _ = doJSON(t, s, http.MethodPost, "/api/challenges/"+id+"/accept", "alice", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("sender accept: expected 403, got %d", rec.Code)
	}

	rec, body = doJSON(t, s, http.MethodPost, "/api/challenges/"+id+"/accept", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	battleID, _ := body["battle_id"].(string)
	if body["status"] != "ACCEPTED" || battleID == "" {
		t.Fatalf("unexpected accept body: %v", body)
	}

	// Both ready over HTTP starts the battle.
	rec, _ = doJSON(t, s, http.MethodPost, "/api/battles/"+battleID+"/ready", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready alice: expected 200, got %d", rec.Code)
	}
	rec, body = doJSON(t, s, http.MethodPost, "/api/battles/"+battleID+"/ready", "bob", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready bob: expected 200, got %d", rec.Code)
	}
	if body["status"] != "ONGOING" {
		t.Fatalf("expected ONGOING, got %v", body["status"])
	}

	rec, _ = doJSON(t, s, http.MethodPost, "/api/battles/"+battleID+"/progress", "alice", `{"text":"signal harbor","final":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: expected 200, got %d", rec.Code)
	}

	// Outsiders are rejected.
	rec, _ = doJSON(t, s, http.MethodPost, "/api/battles/"+battleID+"/ready", "carol", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outsider ready: expected 403, got %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	rec, _ := doJSON(t, s, http.MethodPost, "/api/challenges", "alice", `{"recipient":"alice","category":"TYPING"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self challenge: expected 400, got %d", rec.Code)
	}
	rec, _ = doJSON(t, s, http.MethodPost, "/api/challenges", "alice", `{"recipient":"carol","category":"TYPING"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("not friends: expected 403, got %d", rec.Code)
	}
	rec, _ = doJSON(t, s, http.MethodPost, "/api/challenges", "alice", `{"recipient":"bob","category":"CHESS"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown category: expected 400, got %d", rec.Code)
	}
	rec, _ = doJSON(t, s, http.MethodGet, "/api/challenges/ch-missing", "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing challenge: expected 404, got %d", rec.Code)
	}
	rec, _ = doJSON(t, s, http.MethodGet, "/api/battles/bt-missing", "alice", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing battle: expected 404, got %d", rec.Code)
	}
}

func TestForceEndRequiresAdminToken(t *testing.T) {
	s := newTestServer(t)

	rec, body := doJSON(t, s, http.MethodPost, "/api/challenges", "alice", `{"recipient":"bob","category":"TYPING"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d", rec.Code)
	}
	id := body["id"].(string)
	_, body = doJSON(t, s, http.MethodPost, "/api/challenges/"+id+"/accept", "bob", "")
	battleID := body["battle_id"].(string)
	doJSON(t, s, http.MethodPost, "/api/battles/"+battleID+"/ready", "alice", "")
	doJSON(t, s, http.MethodPost, "/api/battles/"+battleID+"/ready", "bob", "")

	req := httptest.NewRequest(http.MethodPost, "/api/battles/"+battleID+"/force-end", strings.NewReader(""))
	req.Header.Set(identityHeader, "alice")
	w := httptest.NewRecorder()
	s.e.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("no token: expected 403, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/battles/"+battleID+"/force-end", strings.NewReader(""))
	req.Header.Set(identityHeader, "alice")
	req.Header.Set("X-Admin-Token", "sekrit")
	w = httptest.NewRecorder()
	s.e.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("with token: expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["status"] != "ENDED" || out["end_reason"] != "FORCED" {
		t.Fatalf("unexpected record: %v", out)
	}
}
