package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestFetch_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua == "" || ua == "Go-http-client/1.1" {
			t.Errorf("missing browser User-Agent, got %q", ua)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	res := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, nil)
	if res.Kind != KindOK {
		t.Fatalf("Kind = %v, want ok (err=%v)", res.Kind, res.Err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("Status = %d", res.Status)
	}
}

func TestFetch_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	res := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, nil)
	if res.Kind != KindRateLimited {
		t.Fatalf("Kind = %v, want rate_limited", res.Kind)
	}
	if res.RetryAfter != 30*time.Second {
		t.Errorf("RetryAfter = %v, want 30s", res.RetryAfter)
	}
}

func TestFetch_ChallengeOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><title>Just a moment...</title></html>`))
	}))
	defer srv.Close()

	res := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, nil)
	if res.Kind != KindRateLimited {
		t.Fatalf("Kind = %v, want rate_limited for a 200 challenge page", res.Kind)
	}
}

func TestFetch_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<div class="cf-browser-verification"></div>`))
	}))
	defer srv.Close()

	res := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, nil)
	if res.Kind != KindBlocked {
		t.Fatalf("Kind = %v, want blocked", res.Kind)
	}
}

func TestFetch_ServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	res := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, nil)
	if res.Kind != KindTransport {
		t.Fatalf("Kind = %v, want transport for 5xx", res.Kind)
	}
}

func TestFetch_NotFoundSurfacesAsOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, nil)
	if res.Kind != KindOK || res.Status != http.StatusNotFound {
		t.Fatalf("Kind = %v status = %d, want ok/404", res.Kind, res.Status)
	}
}

func TestFetch_ParseError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	res := NewFetcher(5*time.Second).Fetch(context.Background(), srv.URL, nil)
	if res.Kind != KindParse {
		t.Fatalf("Kind = %v, want parse", res.Kind)
	}
}

func TestFetch_ConnectionRefusedIsTransport(t *testing.T) {
	res := NewFetcher(time.Second).Fetch(context.Background(), "http://127.0.0.1:1", nil)
	if res.Kind != KindTransport {
		t.Fatalf("Kind = %v, want transport", res.Kind)
	}
	if res.Err == nil {
		t.Error("transport result should carry the cause")
	}
}

func TestCanonicalURL_SortsQuery(t *testing.T) {
	a := CanonicalURL("https://api.prizepicks.com/projections", url.Values{
		"league_id": {"7"}, "per_page": {"250"},
	})
	b := CanonicalURL("https://api.prizepicks.com/projections?per_page=250", url.Values{
		"league_id": {"7"},
	})
	if a != b {
		t.Errorf("canonical forms differ:\n%s\n%s", a, b)
	}
	if a != "https://api.prizepicks.com/projections?league_id=7&per_page=250" {
		t.Errorf("canonical = %s", a)
	}
}
