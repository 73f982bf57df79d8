package frigate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/front_door/latest.jpg" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write([]byte{0xFF, 0xD8, 0xFF})
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	img, ct, err := c.Snapshot(context.Background(), "front_door")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if ct != "image/jpeg" || len(img) != 3 {
		t.Errorf("got %d bytes, ct %q", len(img), ct)
	}
}

func TestEventsFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("camera") != "driveway" || q.Get("limit") != "5" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`[{"id":"171234.5-abc","camera":"driveway","label":"person","score":0.92}]`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	events, err := c.Events(context.Background(), "driveway", 5)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 || events[0].Label != "person" {
		t.Errorf("events = %+v", events)
	}
}

func TestNotFoundIsError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, _ := New(srv.URL)
	if _, _, err := c.Thumbnail(context.Background(), "missing"); err == nil {
		t.Fatal("expected error on 404")
	}
}
