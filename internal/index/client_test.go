package index

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchByKey_Normalizes(t *testing.T) {
	var got searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(searchResponse{Passages: []Passage{{Content: "NBK 14in", Key: "NBK123"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2)
	passages, err := c.SearchByKey(context.Background(), "  nbk 123 ")
	if err != nil {
		t.Fatalf("SearchByKey: %v", err)
	}
	if got.Key != "NBK123" {
		t.Errorf("sent key = %q, want NBK123", got.Key)
	}
	if got.Collection != CollectionProducts {
		t.Errorf("collection = %q", got.Collection)
	}
	if len(passages) != 1 {
		t.Errorf("passages = %d, want 1", len(passages))
	}
}

func TestSearchByKey_EmptyKey(t *testing.T) {
	c := NewClient("http://unused", 2)
	if _, err := c.SearchByKey(context.Background(), "   "); err == nil {
		t.Error("expected error for empty key")
	}
}

func TestSearchSupport_TwoPasses(t *testing.T) {
	var reqs []searchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		json.NewDecoder(r.Body).Decode(&req)
		reqs = append(reqs, req)
		json.NewEncoder(w).Encode(searchResponse{Passages: []Passage{{Content: "doc"}}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2)
	passages, err := c.SearchSupport(context.Background(), "¿cómo tramito una garantía?")
	if err != nil {
		t.Fatalf("SearchSupport: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("searches = %d, want 2", len(reqs))
	}
	if reqs[0].TopK != 1 || len(reqs[0].Categories) != 1 || reqs[0].Categories[0] != CategoryWarranty {
		t.Errorf("first pass = %+v, want warranty k=1", reqs[0])
	}
	if reqs[1].TopK != 3 || len(reqs[1].Categories) != 4 {
		t.Errorf("second pass = %+v, want four categories k=3", reqs[1])
	}
	if len(passages) != 2 {
		t.Errorf("passages = %d, want 2", len(passages))
	}
}

func TestSearch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2)
	if _, err := c.SearchProducts(context.Background(), "laptop"); err == nil {
		t.Error("expected error for 503")
	}
}

func TestReload(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/reload" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 2)
	if err := c.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
}

func TestGroupByKey(t *testing.T) {
	passages := []Passage{
		{Content: "NBK123 laptop 14in", Key: "NBK123"},
		{Content: "MON456 monitor 27in", Key: "MON456"},
		{Content: "NBK123 promo agosto", Key: "NBK123"},
		{Content: "pasaje sin clave"},
	}

	blocks := GroupByKey(passages)
	if len(blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(blocks))
	}
	if blocks[0] != "NBK123 laptop 14in\nNBK123 promo agosto" {
		t.Errorf("first block = %q", blocks[0])
	}
	if blocks[1] != "MON456 monitor 27in" {
		t.Errorf("second block = %q", blocks[1])
	}
	if blocks[2] != "pasaje sin clave" {
		t.Errorf("loose block = %q", blocks[2])
	}
}
