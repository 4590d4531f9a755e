package timerange

import (
	"testing"
	"time"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestNewInverted(t *testing.T) {
	_, err := New(base, base.Add(-time.Second))
	if err != ErrInverted {
		t.Fatal("expected ErrInverted")
	}
}

func TestZeroWidth(t *testing.T) {
	tr, err := New(base, base)
	if err != nil {
		t.Fatal(err)
	}
	if !tr.IsZeroWidth() {
		t.Fatal("expected zero width")
	}
	if !tr.Overlaps(MustNew(base.Add(-time.Hour), base.Add(time.Hour))) {
		t.Fatal("an instant strictly inside a range overlaps it")
	}
	if tr.Overlaps(MustNew(base.Add(-time.Hour), base)) {
		// closed-open: a range ending at the instant does not cover it
		t.Fatal("zero-width range must not overlap a range it only touches")
	}
	if tr.Overlaps(tr) {
		t.Fatal("two zero-width ranges never overlap")
	}
}

func TestOverlaps(t *testing.T) {
	a := MustNew(base, base.Add(time.Hour))
	b := MustNew(base.Add(30*time.Minute), base.Add(2*time.Hour))
	c := MustNew(base.Add(time.Hour), base.Add(2*time.Hour))

	if !a.Overlaps(b) {
		t.Fatal("a should overlap b")
	}
	if a.Overlaps(c) {
		t.Fatal("adjacent closed-open ranges must not overlap")
	}
	if !b.Overlaps(a) {
		t.Fatal("overlap must be symmetric")
	}
}

func TestContains(t *testing.T) {
	day := MustNew(base, base.Add(24*time.Hour))
	hour := MustNew(base.Add(3*time.Hour), base.Add(4*time.Hour))
	if !day.Contains(hour) {
		t.Fatal("day should contain hour")
	}
	if hour.Contains(day) {
		t.Fatal("hour should not contain day")
	}
	if !day.Contains(day) {
		t.Fatal("a range contains itself")
	}
}

func TestUnion(t *testing.T) {
	a := MustNew(base, base.Add(time.Hour))
	b := MustNew(base.Add(3*time.Hour), base.Add(4*time.Hour))
	u := a.Union(b)
	if !u.Begin.Equal(base) || !u.End.Equal(base.Add(4*time.Hour)) {
		t.Fatalf("bad union: %s", u)
	}
}
