package reconcile

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hyperengineering/studysync/internal/types"
	"github.com/hyperengineering/studysync/internal/window"
)

// Normalizer converts raw identity fields from either source into the
// canonical string form used as the comparison key.
//
// The contract:
//   - strings and []byte are trimmed of leading and trailing whitespace only;
//     inner whitespace and case are kept as returned
//   - time.Time renders in archive date encoding (YYYYMMDD)
//   - integers and floats render in plain decimal
//   - driver.Valuer and fmt.Stringer values are normalized through their value
//   - nil renders as ""
//
// Type coercion that yields a collision (e.g. numeric 123 and text "123") is
// not detected; both compare equal.
type Normalizer struct {
	// FoldCase upper-cases every field after trimming. Off by default so that
	// results match what the archive and store return.
	FoldCase bool
}

// Identity normalizes every field of raw.
func (n Normalizer) Identity(raw types.RawIdentity) types.Identity {
	return types.Identity{
		SubjectName: n.Field(raw.SubjectName),
		SubjectID:   n.Field(raw.SubjectID),
		StudyDate:   n.Field(raw.StudyDate),
	}
}

// Field normalizes a single value.
func (n Normalizer) Field(v any) string {
	s := strings.TrimSpace(toString(v))
	if n.FoldCase {
		s = strings.ToUpper(s)
	}
	return s
}

func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		if x == nil {
			return ""
		}
		return *x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(window.DateLayout)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.Format(window.DateLayout)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return ""
		}
		if _, again := inner.(driver.Valuer); again {
			return fmt.Sprint(inner)
		}
		return toString(inner)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
