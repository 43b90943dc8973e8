package window

import (
	"errors"
	"testing"
	"time"
)

func TestSelect_DefaultLookback(t *testing.T) {
	ref := time.Date(2024, 3, 4, 15, 30, 0, 0, time.UTC)

	w, err := Select(ref, DefaultLookbackDays)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}

	if w.StartDate() != "20240227" {
		t.Errorf("StartDate() = %q, want %q", w.StartDate(), "20240227")
	}
	if w.EndDate() != "20240304" {
		t.Errorf("EndDate() = %q, want %q", w.EndDate(), "20240304")
	}
	if w.Range() != "20240227-20240304" {
		t.Errorf("Range() = %q, want %q", w.Range(), "20240227-20240304")
	}
}

func TestSelect_Deterministic(t *testing.T) {
	ref := time.Date(2024, 1, 2, 23, 59, 59, 0, time.UTC)

	a, _ := Select(ref, 6)
	b, _ := Select(ref, 6)

	if a.Range() != b.Range() {
		t.Errorf("Select() not deterministic: %q vs %q", a.Range(), b.Range())
	}
	if a.StartDate() != "20231227" {
		t.Errorf("StartDate() = %q, want year rollover to 20231227", a.StartDate())
	}
}

func TestSelect_ZeroLookbackIsSingleDay(t *testing.T) {
	ref := time.Date(2024, 5, 10, 8, 0, 0, 0, time.UTC)

	w, err := Select(ref, 0)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	days := w.Days()
	if len(days) != 1 || days[0] != "20240510" {
		t.Errorf("Days() = %v, want [20240510]", days)
	}
}

func TestSelect_NegativeLookback(t *testing.T) {
	_, err := Select(time.Now(), -1)
	if !errors.Is(err, ErrNegativeLookback) {
		t.Errorf("Select(-1) error = %v, want ErrNegativeLookback", err)
	}
}

func TestWindow_DaysInclusive(t *testing.T) {
	w, err := Between("20240228", "20240302")
	if err != nil {
		t.Fatalf("Between() error = %v", err)
	}

	want := []string{"20240228", "20240229", "20240301", "20240302"}
	got := w.Days()
	if len(got) != len(want) {
		t.Fatalf("Days() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Days()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBetween_Invalid(t *testing.T) {
	tests := []struct {
		name       string
		start, end string
	}{
		{"malformed start", "2024-01-01", "20240102"},
		{"malformed end", "20240101", "tomorrow"},
		{"end before start", "20240105", "20240101"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Between(tt.start, tt.end); err == nil {
				t.Errorf("Between(%q, %q) expected error", tt.start, tt.end)
			}
		})
	}
}
