package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nkosi/liveclass/internal/domain"
)

func newAPIServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/lectures/lect-live/active-session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":"sess-9"}`))
	})
	mux.HandleFunc("/lectures/lect-quiet/active-session", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	mux.HandleFunc("/lectures/lect-empty/active-session", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_id":""}`))
	})
	mux.HandleFunc("/lectures/lect-broken/active-session", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestActiveSession(t *testing.T) {
	srv := newAPIServer(t)
	c := NewClient(srv.URL)

	sid, err := c.ActiveSession(context.Background(), "lect-live")
	if err != nil {
		t.Fatalf("active session: %v", err)
	}
	if sid != "sess-9" {
		t.Errorf("session id %q, want sess-9", sid)
	}
}

func TestActiveSessionAbsent(t *testing.T) {
	srv := newAPIServer(t)
	c := NewClient(srv.URL)

	for _, lecture := range []string{"lect-quiet", "lect-empty"} {
		if _, err := c.ActiveSession(context.Background(), domain.LectureID(lecture)); !errors.Is(err, ErrNoActiveSession) {
			t.Errorf("%s: %v, want ErrNoActiveSession", lecture, err)
		}
	}
}

func TestActiveSessionServerError(t *testing.T) {
	srv := newAPIServer(t)
	c := NewClient(srv.URL)

	_, err := c.ActiveSession(context.Background(), "lect-broken")
	if err == nil {
		t.Fatal("want error on 500")
	}
	if errors.Is(err, ErrNoActiveSession) {
		t.Error("server error misreported as no active session")
	}
}

func TestActiveSessionRespectsContext(t *testing.T) {
	srv := newAPIServer(t)
	c := NewClient(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.ActiveSession(ctx, "lect-live"); err == nil {
		t.Fatal("want error from a cancelled context")
	}
}
