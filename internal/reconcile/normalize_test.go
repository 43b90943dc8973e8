package reconcile

import (
	"database/sql/driver"
	"testing"
	"time"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

type valuer struct{ v driver.Value }

func (v valuer) Value() (driver.Value, error) { return v.v, nil }

type stringer string

func (s stringer) String() string { return string(s) }

func TestNormalizer_Field(t *testing.T) {
	n := Normalizer{}
	name := "  SMITH^ANNA "
	date := time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"trimmed string", "  DOE^JOHN  ", "DOE^JOHN"},
		{"inner whitespace kept", "DOE  JOHN", "DOE  JOHN"},
		{"case kept", "Doe^John", "Doe^John"},
		{"string pointer", &name, "SMITH^ANNA"},
		{"nil string pointer", (*string)(nil), ""},
		{"bytes", []byte(" 42 "), "42"},
		{"date", date, "20231231"},
		{"date pointer", &date, "20231231"},
		{"int", 7, "7"},
		{"int64", int64(1234567890123), "1234567890123"},
		{"float integral", float64(12), "12"},
		{"float fraction", 1.5, "1.5"},
		{"valuer", valuer{v: "20240101 "}, "20240101"},
		{"valuer of int", valuer{v: int64(9)}, "9"},
		{"stringer", stringer(" X "), "X"},
		{"dicom padded date", "20240105 ", "20240105"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Field(tt.in); got != tt.want {
				t.Errorf("Field(%#v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizer_FoldCase(t *testing.T) {
	n := Normalizer{FoldCase: true}
	if got := n.Field(" doe^john "); got != "DOE^JOHN" {
		t.Errorf("Field() = %q, want %q", got, "DOE^JOHN")
	}
}
