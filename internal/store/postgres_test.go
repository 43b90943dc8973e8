package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestParseTable(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want pgx.Identifier
	}{
		{"bare", "dicom_metadata", pgx.Identifier{"dicom_metadata"}},
		{"schema qualified", "pacs.dicom_metadata", pgx.Identifier{"pacs", "dicom_metadata"}},
		{"surrounding space", "  dicom_metadata ", pgx.Identifier{"dicom_metadata"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTable(tt.in)
			if err != nil {
				t.Fatalf("ParseTable(%q) error = %v", tt.in, err)
			}
			if got.Sanitize() != tt.want.Sanitize() {
				t.Errorf("ParseTable(%q) = %s, want %s", tt.in, got.Sanitize(), tt.want.Sanitize())
			}
		})
	}
}

func TestParseTable_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "a.b.c", ".table", "schema."} {
		if _, err := ParseTable(in); !errors.Is(err, ErrInvalidTable) {
			t.Errorf("ParseTable(%q) error = %v, want ErrInvalidTable", in, err)
		}
	}
}

func TestStudiesQuery_QuotesTable(t *testing.T) {
	q := studiesQuery(pgx.Identifier{"pacs", `odd"name`})

	if !strings.Contains(q, `FROM "pacs"."odd""name"`) {
		t.Errorf("query does not quote table identifier:\n%s", q)
	}
	if !strings.Contains(q, "BETWEEN $1 AND $2") {
		t.Errorf("query does not bind window bounds:\n%s", q)
	}
	if !strings.Contains(q, "GROUP BY patient_name, patient_id, acquisition_date") {
		t.Errorf("query does not group by identity:\n%s", q)
	}
}

func TestQueryError_Unwrap(t *testing.T) {
	cause := errors.New("relation does not exist")
	err := &QueryError{Table: `"dicom_metadata"`, Err: cause}

	if !errors.Is(err, ErrQuery) {
		t.Error("errors.Is(err, ErrQuery) = false, want true")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false, want true")
	}
	if got := err.Error(); got != `query "dicom_metadata": relation does not exist` {
		t.Errorf("Error() = %q", got)
	}
}
