package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/raihanakbr/lesson-session-client/internal/auth"
)

func newLessonAPI(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	r := mux.NewRouter()
	r.HandleFunc("/lessons/start", handler).Methods(http.MethodPost)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStartReturnsSessionID(t *testing.T) {
	srv := newLessonAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization=%q", got)
		}
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.ClassID != 3 || req.UnitID != "u-1" {
			t.Errorf("request=%+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-9"})
	})

	tokens := auth.NewStore(nil)
	_ = tokens.Set("tok")
	client := New(srv.URL, tokens, srv.Client(), nil)

	id, err := client.Start(context.Background(), 3, "u-1")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id != "sess-9" {
		t.Fatalf("session id=%q want=sess-9", id)
	}
}

func TestStartWithoutTokenMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := newLessonAPI(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	client := New(srv.URL, auth.NewStore(nil), srv.Client(), nil)
	_, err := client.Start(context.Background(), 1, "u")
	if !errors.Is(err, auth.ErrNoCredential) {
		t.Fatalf("err=%v want ErrNoCredential", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("server called %d times", calls.Load())
	}
}

func TestStartUnauthorizedClearsToken(t *testing.T) {
	srv := newLessonAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	tokens := auth.NewStore(nil)
	_ = tokens.Set("stale")
	client := New(srv.URL, tokens, srv.Client(), nil)

	_, err := client.Start(context.Background(), 1, "u")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err=%v want ErrUnauthorized", err)
	}
	if _, ok := tokens.Get(); ok {
		t.Fatalf("token should be cleared after 401")
	}
}

func TestStartServerError(t *testing.T) {
	srv := newLessonAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unit locked", http.StatusConflict)
	})

	tokens := auth.NewStore(nil)
	_ = tokens.Set("tok")
	client := New(srv.URL, tokens, srv.Client(), nil)

	_, err := client.Start(context.Background(), 1, "u")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err=%v want *StatusError", err)
	}
	if statusErr.Status != http.StatusConflict || statusErr.Body != "unit locked" {
		t.Fatalf("status error=%+v", statusErr)
	}
}
