package presence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hamed0406/presencewatch/internal/domain"
)

func TestHTTPSource_Online(t *testing.T) {
	var auth, path string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"42","username":"bot","discriminator":"0001","status":"idle"}`))
	}))
	defer s.Close()

	src := NewHTTPSource(s.URL+"/", "secret", 2*time.Second)
	a, err := src.FetchAccount(context.Background(), "42")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if auth != "Bearer secret" {
		t.Fatalf("auth header=%q", auth)
	}
	if path != "/accounts/42" {
		t.Fatalf("path=%q", path)
	}
	if !a.Online() || a.Tag() != "bot#0001" {
		t.Fatalf("unexpected account %+v", a)
	}
}

func TestHTTPSource_MissingStatusIsOffline(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"username":"bot"}`))
	}))
	defer s.Close()

	a, err := NewHTTPSource(s.URL, "", time.Second).FetchAccount(context.Background(), "7")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if a.Online() || a.ID != "7" {
		t.Fatalf("unexpected account %+v", a)
	}
}

func TestHTTPSource_NotFound(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer s.Close()

	_, err := NewHTTPSource(s.URL, "", time.Second).FetchAccount(context.Background(), "1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestHTTPSource_ServerError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer s.Close()

	_, err := NewHTTPSource(s.URL, "", time.Second).FetchAccount(context.Background(), "1")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("want StatusError 502, got %v", err)
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("5xx must not read as not found")
	}
}

func TestHTTPSource_Timeout(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer s.Close()

	_, err := NewHTTPSource(s.URL, "", 50*time.Millisecond).FetchAccount(context.Background(), "1")
	if err == nil {
		t.Fatalf("want timeout error")
	}
}
