package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

type payload struct {
	IDs []string `json:"ids"`
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(ctx, "forever", []byte("x"), 0); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := m.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("entry should expire at its ttl")
	}
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Error("entry without ttl should not expire")
	}
	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("unexpected hit")
	}
}

func TestMemory_CopiesValue(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	_ = m.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'z'
	if v, _, _ := m.Get(ctx, "k"); string(v) != "abc" {
		t.Errorf("cached value aliased caller buffer: %q", v)
	}
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(context.Background(), RedisConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedis_GetSet(t *testing.T) {
	ctx := context.Background()
	r, mr := newRedis(t)

	if _, ok, err := r.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("miss = %v, %v", ok, err)
	}
	if err := r.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("polyanalytics:k") {
		t.Error("key not prefixed")
	}
	if v, ok, err := r.Get(ctx, "k"); err != nil || !ok || string(v) != "v" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Error("entry should expire")
	}
}

func TestRedis_ConnectFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()

	if _, err := NewRedis(context.Background(), RedisConfig{Addr: addr}); err == nil {
		t.Error("expected ping failure")
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	r, _ := newRedis(t)

	for name, c := range map[string]Cache{"memory": NewMemory(), "redis": r} {
		t.Run(name, func(t *testing.T) {
			if err := SetJSON(ctx, c, "p", payload{IDs: []string{"a", "b"}}, time.Minute); err != nil {
				t.Fatal(err)
			}
			var got payload
			ok, err := GetJSON(ctx, c, "p", &got)
			if err != nil || !ok {
				t.Fatalf("GetJSON = %v, %v", ok, err)
			}
			if len(got.IDs) != 2 || got.IDs[1] != "b" {
				t.Errorf("decoded = %+v", got)
			}

			_ = c.Set(ctx, "broken", []byte("{"), time.Minute)
			if _, err := GetJSON(ctx, c, "broken", &got); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}
