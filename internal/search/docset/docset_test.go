package docset

import (
	"reflect"
	"testing"
)

func TestNewSortsAndDeduplicates(t *testing.T) {
	got := New(5, 1, 3, 1, 5, 2)
	want := Set{1, 2, 3, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("New = %v, want %v", got, want)
	}
	if New().Len() != 0 {
		t.Error("New() should be empty")
	}
}

func TestContains(t *testing.T) {
	s := New(1, 3, 7, 9)
	for _, id := range []uint32{1, 3, 7, 9} {
		if !s.Contains(id) {
			t.Errorf("Contains(%d) = false, want true", id)
		}
	}
	for _, id := range []uint32{0, 2, 8, 10} {
		if s.Contains(id) {
			t.Errorf("Contains(%d) = true, want false", id)
		}
	}
	if Empty().Contains(1) {
		t.Error("empty set should contain nothing")
	}
}

func TestUnion(t *testing.T) {
	tests := []struct {
		a, b, want Set
	}{
		{New(1, 3, 5), New(2, 3, 4), Set{1, 2, 3, 4, 5}},
		{Empty(), New(1, 2), Set{1, 2}},
		{New(1, 2), Empty(), Set{1, 2}},
		{New(1, 2), New(1, 2), Set{1, 2}},
	}
	for _, tt := range tests {
		if got := Union(tt.a, tt.b); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Union(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIntersect(t *testing.T) {
	tests := []struct {
		a, b, want Set
	}{
		{New(1, 3, 5, 7), New(3, 4, 7, 8), Set{3, 7}},
		{New(1, 2), New(3, 4), Set{}},
		{Empty(), New(1), nil},
	}
	for _, tt := range tests {
		got := Intersect(tt.a, tt.b)
		if got.Len() != tt.want.Len() {
			t.Errorf("Intersect(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Intersect(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		}
	}
}

func TestDifference(t *testing.T) {
	got := Difference(New(1, 2, 3, 4), New(2, 4, 6))
	want := Set{1, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Difference = %v, want %v", got, want)
	}
	if Difference(Empty(), New(1)).Len() != 0 {
		t.Error("difference from empty should be empty")
	}
}

func TestWithInsertedCopies(t *testing.T) {
	orig := New(2, 4)
	got := orig.WithInserted(3)
	if want := (Set{2, 3, 4}); !reflect.DeepEqual(got, want) {
		t.Errorf("WithInserted = %v, want %v", got, want)
	}
	// The original must be untouched: shared sets are never mutated.
	if want := (Set{2, 4}); !reflect.DeepEqual(orig, want) {
		t.Errorf("original mutated: %v, want %v", orig, want)
	}
	// Inserting a member returns the receiver unchanged.
	same := orig.WithInserted(2)
	if !reflect.DeepEqual(same, orig) {
		t.Errorf("inserting existing id changed the set: %v", same)
	}
}

func TestWithRemoved(t *testing.T) {
	orig := New(1, 2, 3)
	got := orig.WithRemoved(2)
	if want := (Set{1, 3}); !reflect.DeepEqual(got, want) {
		t.Errorf("WithRemoved = %v, want %v", got, want)
	}
	if orig.Len() != 3 {
		t.Error("original mutated by WithRemoved")
	}
	if Singleton(7).WithRemoved(7) != nil {
		t.Error("removing the last id should yield the empty set")
	}
	if got := orig.WithRemoved(9); !reflect.DeepEqual(got, orig) {
		t.Errorf("removing absent id changed the set: %v", got)
	}
}

func BenchmarkUnion(b *testing.B) {
	a := make(Set, 0, 10000)
	c := make(Set, 0, 10000)
	for i := uint32(0); i < 10000; i++ {
		a = append(a, i*2)
		c = append(c, i*3)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Union(a, c)
	}
}
