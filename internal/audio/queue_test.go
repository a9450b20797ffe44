package audio

import "testing"

func item(start, end float64, payload string) DrainedBuffer {
	return DrainedBuffer{Range: rng(start, end), Parts: [][]byte{[]byte(payload)}}
}

func TestOverflowQueueFIFO(t *testing.T) {
	q := NewOverflowQueue(0, DropOldest)

	for i := 0; i < 5; i++ {
		if _, dropped := q.Push(item(float64(i), float64(i+1), "x")); dropped {
			t.Fatalf("Unbounded queue dropped item %d", i)
		}
	}

	for i := 0; i < 5; i++ {
		got, ok := q.Pop()
		if !ok {
			t.Fatalf("Expected item %d, queue empty", i)
		}
		if got.Range.Start != float64(i) {
			t.Errorf("Expected item starting at %d, got %s", i, got.Range)
		}
		if !got.Queued {
			t.Errorf("Expected item %d to be marked queued", i)
		}
	}

	if _, ok := q.Pop(); ok {
		t.Error("Expected empty queue")
	}
}

func TestOverflowQueuePushFront(t *testing.T) {
	q := NewOverflowQueue(2, DropOldest)
	q.Push(item(1, 2, "b"))
	q.Push(item(2, 3, "c"))
	q.PushFront(item(0, 1, "a"))

	if q.Len() != 3 {
		t.Fatalf("Expected PushFront to ignore the bound, got len %d", q.Len())
	}

	want := []string{"a", "b", "c"}
	for _, w := range want {
		got, _ := q.Pop()
		if string(got.Parts[0]) != w {
			t.Errorf("Expected %q, got %q", w, got.Parts[0])
		}
	}
}

func TestOverflowQueueBounded(t *testing.T) {
	tests := []struct {
		name       string
		policy     OverflowPolicy
		wantEvict  string
		wantRemain []string
	}{
		{"drop oldest", DropOldest, "a", []string{"b", "c"}},
		{"drop newest", DropNewest, "c", []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewOverflowQueue(2, tt.policy)
			q.Push(item(0, 1, "a"))
			q.Push(item(1, 2, "b"))

			evicted, dropped := q.Push(item(2, 3, "c"))
			if !dropped {
				t.Fatal("Expected an eviction")
			}
			if string(evicted.Parts[0]) != tt.wantEvict {
				t.Errorf("Expected %q evicted, got %q", tt.wantEvict, evicted.Parts[0])
			}

			for _, w := range tt.wantRemain {
				got, _ := q.Pop()
				if string(got.Parts[0]) != w {
					t.Errorf("Expected %q, got %q", w, got.Parts[0])
				}
			}

			if q.GetStats().Dropped != 1 {
				t.Errorf("Expected 1 dropped, got %d", q.GetStats().Dropped)
			}
		})
	}
}

func TestParseOverflowPolicy(t *testing.T) {
	if p, err := ParseOverflowPolicy(""); err != nil || p != DropOldest {
		t.Errorf("Expected default drop_oldest, got %q (%v)", p, err)
	}
	if p, err := ParseOverflowPolicy("drop_newest"); err != nil || p != DropNewest {
		t.Errorf("Expected drop_newest, got %q (%v)", p, err)
	}
	if _, err := ParseOverflowPolicy("backpressure"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestOverflowQueueStats(t *testing.T) {
	q := NewOverflowQueue(0, "")
	q.Push(item(0, 1, "abc"))
	q.Push(item(1, 2, "de"))

	stats := q.GetStats()
	if stats.Depth != 2 || stats.Bytes != 5 || stats.Pushed != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	q.Clear()
	if !q.IsEmpty() {
		t.Error("Expected empty queue after Clear")
	}
}
