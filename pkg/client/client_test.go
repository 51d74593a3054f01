package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AbdurrudbA/snl-data-dictionaries/pkg/retry"
)

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL + "/",
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

func TestEncodePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/Equities/prices.csv", "/Equities/prices.csv"},
		{"/Fixed Income/2023 q1.xlsx", "/Fixed%20Income/2023%20q1.xlsx"},
		{"/Bonds/a?b.csv", "/Bonds/a%3Fb.csv"},
		{"/Bonds/100%.txt", "/Bonds/100%25.txt"},
	}
	for _, tt := range tests {
		if got := EncodePath(tt.in); got != tt.want {
			t.Errorf("EncodePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFetch_Success(t *testing.T) {
	var gotPath string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte("a,b\n1,2\n"))
	}))
	defer ts.Close()

	data, err := c.Fetch(context.Background(), "/Fixed Income/rates.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "a,b\n1,2\n" {
		t.Errorf("data = %q", data)
	}
	if gotPath != "/Fixed%20Income/rates.csv" {
		t.Errorf("request path = %q", gotPath)
	}
}

func TestFetch_NotFoundNotRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.NotFound(w, r)
	}))
	defer ts.Close()

	_, err := c.Fetch(context.Background(), "/Bonds/missing.csv")
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T: %v", err, err)
	}
	if fe.StatusCode != http.StatusNotFound || fe.Path != "/Bonds/missing.csv" {
		t.Errorf("FetchError = %+v", fe)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestFetch_ServerErrorRetried(t *testing.T) {
	var attempts atomic.Int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	data, err := c.Fetch(context.Background(), "/Bonds/b.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "ok" || attempts.Load() != 3 {
		t.Errorf("data=%q attempts=%d", data, attempts.Load())
	}
}

func TestFetch_ServerErrorExhausted(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	_, err := c.Fetch(context.Background(), "/Bonds/b.csv")
	var fe *FetchError
	if !errors.As(err, &fe) || fe.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 FetchError, got %v", err)
	}
}

func TestFetchManifest(t *testing.T) {
	var cacheControl, bust string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/manifest.json" {
			http.NotFound(w, r)
			return
		}
		cacheControl = r.Header.Get("Cache-Control")
		bust = r.URL.Query().Get("_")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"generatedAt":"2024-05-01T00:00:00Z","categories":{"Bonds":[{"name":"b.csv","path":"/Bonds/b.csv","size":4}],"Empty":[]}}`))
	}))
	defer ts.Close()

	m, err := c.FetchManifest(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.FileCount() != 1 || len(m.Categories) != 2 {
		t.Errorf("manifest = %+v", m)
	}
	if cacheControl != "no-cache" {
		t.Errorf("Cache-Control = %q", cacheControl)
	}
	if bust == "" {
		t.Error("missing cache-busting query parameter")
	}
}

func TestFetchManifest_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not found", func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) }},
		{"malformed", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("{nope")) }},
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ts := testClient(tt.handler)
			defer ts.Close()

			m, err := c.FetchManifest(context.Background())
			if !errors.Is(err, ErrManifestUnavailable) {
				t.Fatalf("err = %v, want ErrManifestUnavailable", err)
			}
			if m == nil || m.FileCount() != 0 || m.Categories == nil {
				t.Errorf("expected empty manifest, got %+v", m)
			}
		})
	}
}

func TestPing(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.Write([]byte(`{"status":"ok"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}
