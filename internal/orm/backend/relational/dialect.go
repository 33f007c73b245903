package relational

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/conduit-lang/strata/internal/orm/schema"
)

// sqliteTimeFormat is fixed width so lexical order matches time order
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

// Dialect captures the SQL differences between the supported databases
type Dialect interface {
	// Name is the dialect name used in configuration
	Name() string

	// DriverName is the database/sql driver the dialect opens
	DriverName() string

	// Placeholder returns the bind parameter for the n-th argument (1-based)
	Placeholder(n int) string

	// IDColumn returns the column definition of the identity column
	IDColumn() string

	// ColumnType maps a field to its column type
	ColumnType(f *schema.FieldDescriptor) string

	// EncodeTime converts a timestamp to a bind argument
	EncodeTime(t time.Time) interface{}

	// ILike renders a case-insensitive pattern match
	ILike(col, placeholder string) string

	// Limit renders the LIMIT/OFFSET clause; zero limit means unbounded
	Limit(limit, offset int) string

	// RetypeColumn returns the statements that change a column's type in place
	RetypeColumn(table, col, typ string) []string

	// DSN builds the connection string from a URL and optional credentials
	DSN(rawURL, user, password string) (string, error)
}

var (
	// Postgres is the PostgreSQL dialect, served by the pgx stdlib driver
	Postgres Dialect = postgresDialect{}

	// SQLite is the SQLite dialect, served by go-sqlite3
	SQLite Dialect = sqliteDialect{}
)

// DialectFor returns the dialect for a driver name from configuration
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// quote quotes an identifier; both dialects accept double-quoted identifiers
func quote(name string) string {
	return pq.QuoteIdentifier(name)
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return "postgres" }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (postgresDialect) IDColumn() string {
	return quote(colID) + " BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY"
}

func (postgresDialect) ColumnType(f *schema.FieldDescriptor) string {
	switch f.Kind {
	case schema.KindBool:
		return "BOOLEAN"
	case schema.KindInt:
		return "INTEGER"
	case schema.KindLong, schema.KindModel:
		return "BIGINT"
	case schema.KindDouble:
		return "DOUBLE PRECISION"
	case schema.KindString:
		// ciphertext is longer than the plaintext limit
		if f.MaxLength > 0 && !f.Encrypt {
			return fmt.Sprintf("VARCHAR(%d)", f.MaxLength)
		}
		return "TEXT"
	case schema.KindTimestamp:
		return "TIMESTAMPTZ"
	case schema.KindBlob:
		return "BYTEA"
	default:
		// enum, list and flex
		return "TEXT"
	}
}

func (postgresDialect) EncodeTime(t time.Time) interface{} {
	return t.UTC()
}

func (postgresDialect) ILike(col, placeholder string) string {
	return fmt.Sprintf("%s ILIKE %s", col, placeholder)
}

func (postgresDialect) Limit(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

func (postgresDialect) RetypeColumn(table, col, typ string) []string {
	return []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		quote(table), quote(col), typ, quote(col), typ)}
}

func (postgresDialect) DSN(rawURL, user, password string) (string, error) {
	if user == "" {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	if password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String(), nil
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return "sqlite" }
func (sqliteDialect) DriverName() string { return "sqlite3" }

func (sqliteDialect) Placeholder(int) string {
	return "?"
}

func (sqliteDialect) IDColumn() string {
	return quote(colID) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (sqliteDialect) ColumnType(f *schema.FieldDescriptor) string {
	switch f.Kind {
	case schema.KindBool, schema.KindInt, schema.KindLong, schema.KindModel:
		return "INTEGER"
	case schema.KindDouble:
		return "REAL"
	case schema.KindBlob:
		return "BLOB"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) EncodeTime(t time.Time) interface{} {
	return t.UTC().Format(sqliteTimeFormat)
}

func (sqliteDialect) ILike(col, placeholder string) string {
	return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s)", col, placeholder)
}

func (sqliteDialect) Limit(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf("LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf("LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

// RetypeColumn rebuilds the column: sqlite cannot alter a column type
func (sqliteDialect) RetypeColumn(table, col, typ string) []string {
	tmp := col + "__old"
	return []string{
		fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", quote(table), quote(col), quote(tmp)),
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(table), quote(col), typ),
		fmt.Sprintf("UPDATE %s SET %s = CAST(%s AS %s)", quote(table), quote(col), quote(tmp), typ),
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(table), quote(tmp)),
	}
}

// DSN turns a file path into a go-sqlite3 DSN. LIKE is made case sensitive
// and writers wait on a busy database instead of failing at once.
func (sqliteDialect) DSN(rawURL, _, _ string) (string, error) {
	path := strings.TrimPrefix(rawURL, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite3://")
	if path == "" {
		return "", fmt.Errorf("sqlite database path is required")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_cslike=1&_busy_timeout=5000", nil
}
