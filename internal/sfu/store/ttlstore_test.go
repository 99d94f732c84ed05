package store

import (
	"testing"
	"time"
)

func TestTTLStoreSetGet(t *testing.T) {
	s := NewTTLStore[string, int](time.Hour)
	defer s.Close()

	s.Set("a", 1, time.Minute)
	if v, ok := s.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v, want 1, true", v, ok)
	}
	if _, ok := s.Get("missing"); ok {
		t.Fatal("Get(missing) ok = true, want false")
	}
}

func TestTTLStoreExpiry(t *testing.T) {
	s := NewTTLStore[string, int](time.Hour)
	defer s.Close()

	s.Set("a", 1, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	if _, ok := s.Get("a"); ok {
		t.Fatal("Get(a) ok = true after expiry, want false")
	}
}

func TestTTLStoreCleanupEvicts(t *testing.T) {
	s := NewTTLStore[string, int](10 * time.Millisecond)
	defer s.Close()

	evicted := make(chan string, 1)
	s.SetOnEvict(func(key string, _ int) {
		evicted <- key
	})

	s.Set("a", 1, time.Millisecond)

	select {
	case key := <-evicted:
		if key != "a" {
			t.Fatalf("evicted key = %q, want a", key)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for eviction")
	}

	if s.Len() != 0 {
		t.Fatalf("Len() = %d after eviction, want 0", s.Len())
	}
}

func TestTTLStoreDelete(t *testing.T) {
	s := NewTTLStore[string, int](time.Hour)
	defer s.Close()

	s.Set("a", 1, time.Minute)
	if !s.Delete("a") {
		t.Fatal("Delete(a) = false, want true")
	}
	if s.Delete("a") {
		t.Fatal("second Delete(a) = true, want false")
	}
}

func TestTTLStoreAllSkipsExpired(t *testing.T) {
	s := NewTTLStore[string, int](time.Hour)
	defer s.Close()

	s.Set("live", 1, time.Minute)
	s.Set("dead", 2, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	all := s.All()
	if _, ok := all["dead"]; ok {
		t.Fatal("All() contains expired key")
	}
	if _, ok := all["live"]; !ok {
		t.Fatal("All() missing live key")
	}
}
