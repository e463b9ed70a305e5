package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoSetGet(t *testing.T) {
	m := NewMemo[int](8, time.Minute)
	m.Set("a", 1)
	got, ok := m.Get("a")
	if !ok {
		t.Fatalf("expected hit")
	}
	if got != 1 {
		t.Fatalf("unexpected value %d", got)
	}
	if _, ok := m.Get("missing"); ok {
		t.Fatalf("expected miss")
	}
}

func TestMemoTTLExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewMemo(4, 500*time.Millisecond, WithClock[string](clock))

	m.Set("k", "v")
	if _, ok := m.Get("k"); !ok {
		t.Fatalf("expected hit before expiry")
	}

	now = now.Add(501 * time.Millisecond)
	if _, ok := m.Get("k"); ok {
		t.Fatalf("expected miss after ttl")
	}
	if m.Len() != 0 {
		t.Fatalf("expired entry not removed, len=%d", m.Len())
	}
}

func TestMemoLRUEviction(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewMemo(3, time.Minute, WithClock[int](clock))

	for i := 0; i < 3; i++ {
		m.Set(fmt.Sprintf("k%d", i), i)
		now = now.Add(time.Millisecond)
	}

	// Touch k0 so k1 becomes the least recently used.
	if _, ok := m.Get("k0"); !ok {
		t.Fatalf("expected k0 present")
	}
	now = now.Add(time.Millisecond)

	m.Set("k3", 3)
	if _, ok := m.Get("k1"); ok {
		t.Fatalf("expected k1 evicted")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if _, ok := m.Get(k); !ok {
			t.Fatalf("expected %s present", k)
		}
	}
}

func TestMemoOverwriteRefreshesTTL(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := NewMemo(4, time.Second, WithClock[int](clock))

	m.Set("k", 1)
	now = now.Add(900 * time.Millisecond)
	m.Set("k", 2)
	now = now.Add(900 * time.Millisecond)

	got, ok := m.Get("k")
	if !ok {
		t.Fatalf("expected hit after refresh")
	}
	if got != 2 {
		t.Fatalf("unexpected value %d", got)
	}
}
