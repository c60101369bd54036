package foreman

import (
	"fmt"
	"testing"
)

func TestCacheRegisterAndLookup(t *testing.T) {
	cache := NewCache[EntityID](8)

	tests := []struct {
		key string
		id  EntityID
	}{
		{"Position", 1},
		{"Velocity", 2},
		{"Health", 3},
	}
	for _, tt := range tests {
		idx, err := cache.Register(tt.key, tt.id)
		if err != nil {
			t.Fatalf("Register(%q) failed: %v", tt.key, err)
		}
		got, ok := cache.GetIndex(tt.key)
		if !ok || got != idx {
			t.Errorf("GetIndex(%q) = %d,%v, want %d,true", tt.key, got, ok, idx)
		}
		if item := cache.GetItem(idx); *item != tt.id {
			t.Errorf("GetItem(%d) = %d, want %d", idx, *item, tt.id)
		}
	}

	if _, ok := cache.GetIndex("Missing"); ok {
		t.Errorf("GetIndex of missing key reported success")
	}
}

func TestCacheCapacity(t *testing.T) {
	cache := NewCache[EntityID](2)
	for i := 0; i < 2; i++ {
		if _, err := cache.Register(fmt.Sprintf("key%d", i), EntityID(i)); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	if _, err := cache.Register("overflow", 9); err == nil {
		t.Errorf("expected capacity error")
	}
}

func TestCacheClear(t *testing.T) {
	cache := NewCache[EntityID](4)
	cache.Register("Position", 1)
	cache.Clear()
	if _, ok := cache.GetIndex("Position"); ok {
		t.Errorf("key survived Clear")
	}
	if _, err := cache.Register("Position", 2); err != nil {
		t.Errorf("Register after Clear failed: %v", err)
	}
}
