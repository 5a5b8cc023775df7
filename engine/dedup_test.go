package engine

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupSet_Capacity(t *testing.T) {
	now := time.Now()
	s := NewDedupSet(3, 0)

	for i := 0; i < 5; i++ {
		if !s.Add(fmt.Sprintf("id%d", i), now) {
			t.Fatalf("id%d reported as duplicate", i)
		}
	}

	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
	for _, id := range []string{"id0", "id1"} {
		if s.Contains(id, now) {
			t.Errorf("%s should have been evicted", id)
		}
	}
	for _, id := range []string{"id2", "id3", "id4"} {
		if !s.Contains(id, now) {
			t.Errorf("%s should be present", id)
		}
	}

	ids := s.IDs()
	if len(ids) != 3 || ids[0] != "id2" || ids[2] != "id4" {
		t.Errorf("IDs() = %v, want oldest first", ids)
	}
}

func TestDedupSet_AddDuplicate(t *testing.T) {
	now := time.Now()
	s := NewDedupSet(10, time.Minute)
	if !s.Add("a", now) {
		t.Fatal("first add should succeed")
	}
	if s.Add("a", now.Add(time.Second)) {
		t.Error("second add should report duplicate")
	}
}

func TestDedupSet_TTL(t *testing.T) {
	start := time.Now()
	s := NewDedupSet(10, time.Minute)
	s.Add("a", start)
	s.Add("b", start.Add(50*time.Second))

	later := start.Add(90 * time.Second)
	if s.Contains("a", later) {
		t.Error("a should be expired")
	}
	if !s.Contains("b", later) {
		t.Error("b should still be live")
	}

	// Adding sweeps expired tail entries.
	s.Add("c", start.Add(200*time.Second))
	if s.Len() != 1 {
		t.Errorf("Len() = %d after sweep, want 1", s.Len())
	}
}

func TestDedupSet_DefaultCapacity(t *testing.T) {
	s := NewDedupSet(0, 0)
	if s.capacity != DefaultDedupCapacity {
		t.Errorf("capacity = %d, want %d", s.capacity, DefaultDedupCapacity)
	}
}
