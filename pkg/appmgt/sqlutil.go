package appmgt

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
)

// flag is a boolean persisted as '1' or '0'.
type flag bool

// Value implements driver.Valuer.
func (f flag) Value() (driver.Value, error) {
	if f {
		return "1", nil
	}
	return "0", nil
}

// Scan implements sql.Scanner.
func (f *flag) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = false
	case string:
		*f = parseFlag(v)
	case []byte:
		*f = parseFlag(string(v))
	case int64:
		*f = v == 1
	case bool:
		*f = flag(v)
	default:
		return fmt.Errorf("cannot scan %T into flag", src)
	}
	return nil
}

func parseFlag(s string) flag {
	s = strings.TrimSpace(s)
	return flag(s == "1" || strings.EqualFold(s, "true"))
}

// insertedID returns the generated key of an insert. Drivers that do not
// report it (lib/pq, pgx) fall back to a lookup of the inserted row.
func insertedID(res sql.Result, fallback func() (int64, error)) (int64, error) {
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return id, nil
	}
	return fallback()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
