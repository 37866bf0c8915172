package routes

import "testing"

func TestCatalogSeeded(t *testing.T) {
	c := NewCatalog()
	r, ok := c.Get("1")
	if !ok || r.Name != "Ranjangaon Phata" || len(r.Stops) == 0 {
		t.Fatalf("route 1 missing or incomplete: %+v", r)
	}
	if _, ok := c.Get("99"); ok {
		t.Fatal("unknown route id should not resolve")
	}
	if len(c.IDs()) != 2 {
		t.Fatalf("expected 2 seeded routes, got %d", len(c.IDs()))
	}
}
