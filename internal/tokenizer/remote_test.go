package tokenizer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
)

func TestRemoteCounter(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tokenize" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req tokenizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Content != "three token text" || req.Model != "llama" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"tokens": [1, 2, 3]}`))
	}))
	defer srv.Close()

	c := NewRemoteCounter(srv.URL+"/v1/", "llama", "k")
	n, err := c.Count(context.Background(), "three token text")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}

	c.APIKey = ""
	if _, err := c.Count(context.Background(), "three token text"); err == nil {
		t.Fatal("expected error on 401")
	}
}

func TestRemoteCounterPrefersCount(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tokens": [1], "count": 40000}`))
	}))
	defer srv.Close()

	n, err := NewRemoteCounter(srv.URL, "", "").Count(context.Background(), "x")
	if err != nil {
		t.Fatal(err)
	}
	if n != 40000 {
		t.Fatalf("Count = %d, want 40000", n)
	}
}
