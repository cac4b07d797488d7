// Package bridge adapts an external SQL handle (a real database/sql
// connection pool, via github.com/go-sql-driver/mysql) to the minimal
// capability set the rule dispatcher's forward step needs: open a handle,
// clone it for a new connection, and execute a query translated into the
// text-protocol column/row shapes the MySQL wire protocol expects.
package bridge

import (
	"context"
	"database/sql"
	"strings"

	driver "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ruleserver/mysqlrules/internal/wire"
)

// ColumnMeta describes one column of a forwarded query's result set, the
// shape the Driver Bridge hands to the response builder.
type ColumnMeta struct {
	Name     string
	Nullable bool
	Length   uint32
	Type     byte // MYSQL_TYPE_* constant, see internal/protocol
}

// Result is what Execute returns: either a text-protocol result set
// (Columns/Rows populated) or an OK-shaped outcome (Affected/LastInsertID).
type Result struct {
	Columns      []ColumnMeta
	Rows         [][]*string // nil entry == SQL NULL
	Affected     uint64
	LastInsertID uint64
}

// Error is a driver-originated failure translated into MySQL-compatible
// (code, sqlstate, message), per spec: driver errors default to 2000/HY000
// when the underlying driver does not supply a code.
type Error struct {
	Code     uint16
	SQLState string
	Message  string
}

func (e *Error) Error() string { return e.Message }

// Bridge opens and executes against upstream MySQL handles.
type Bridge struct{}

// New returns a ready-to-use Bridge. It carries no state of its own; all
// state lives in the *sql.DB handles it hands back from Open.
func New() *Bridge { return &Bridge{} }

// Open connects to addr (host:port) as user/password, selecting database,
// and returns a pooled handle. The pool is safe for concurrent use, but per
// connection-state semantics each worker should treat the handle returned
// by Clone, not this one directly, as its mutable "active handle".
func (b *Bridge) Open(addr, user, password, database string) (*sql.DB, error) {
	cfg := driver.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = addr
	cfg.User = user
	cfg.Passwd = password
	cfg.DBName = database
	dsn := cfg.FormatDSN()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "bridge: open upstream handle")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "bridge: ping upstream handle")
	}
	return db, nil
}

// Clone returns a handle for a new connection to reuse. *sql.DB is itself a
// connection pool safe for concurrent use, so cloning is sharing the pool;
// per-connection mutable state (the active handle pointer) still lives on
// the caller's side, so no single connection's forward target can leak into
// another's.
func (b *Bridge) Clone(h *sql.DB) *sql.DB { return h }

var writeKeywords = []string{"INSERT", "UPDATE", "DELETE", "REPLACE", "CREATE", "DROP", "ALTER", "TRUNCATE"}

func isWriteStatement(query string) bool {
	upper := strings.ToUpper(strings.TrimSpace(query))
	for _, kw := range writeKeywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// Execute runs query against h and renders the result into the text
// protocol shape. Statements recognized as writes (INSERT/UPDATE/DELETE/...)
// go through Exec and report affected rows / last insert id; everything
// else goes through Query and reports columns and rows.
func (b *Bridge) Execute(ctx context.Context, h *sql.DB, query string) (*Result, error) {
	if isWriteStatement(query) {
		res, err := h.ExecContext(ctx, query)
		if err != nil {
			return nil, translateErr(err)
		}
		affected, _ := res.RowsAffected()
		insertID, _ := res.LastInsertId()
		return &Result{Affected: uint64(affected), LastInsertID: uint64(insertID)}, nil
	}

	rows, err := h.QueryContext(ctx, query)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "bridge: column types")
	}

	cols := make([]ColumnMeta, len(colTypes))
	for i, ct := range colTypes {
		nullable, _ := ct.Nullable()
		length, hasLength := ct.Length()
		if !hasLength {
			length = 0
		}
		cols[i] = ColumnMeta{
			Name:     ct.Name(),
			Nullable: nullable,
			Length:   uint32(length),
			Type:     mysqlTypeFor(ct.DatabaseTypeName()),
		}
	}

	var resultRows [][]*string
	scanTargets := make([]sql.NullString, len(cols))
	scanPtrs := make([]interface{}, len(cols))
	for i := range scanTargets {
		scanPtrs[i] = &scanTargets[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, errors.Wrap(err, "bridge: row scan")
		}
		row := make([]*string, len(cols))
		for i, v := range scanTargets {
			if !v.Valid {
				continue
			}
			str := v.String
			if isDecimalType(cols[i].Type) {
				if d, derr := decimal.NewFromString(str); derr == nil {
					str = d.String()
				}
			}
			row[i] = &str
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "bridge: row iteration")
	}

	return &Result{Columns: cols, Rows: resultRows}, nil
}

// mysqlTypeFor maps a database/sql DatabaseTypeName to a MySQL wire type
// code. Anything not recognized defaults to MYSQL_TYPE_STRING, matching the
// reference behavior spec.md §4.5 explicitly allows ("implementation may
// default all non-numeric columns to MYSQL_TYPE_STRING").
func mysqlTypeFor(dbType string) byte {
	switch strings.ToUpper(dbType) {
	case "DECIMAL", "NUMERIC":
		return wire.TypeNewDecimal
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER":
		return wire.TypeLong
	case "BIGINT":
		return wire.TypeLonglong
	case "FLOAT":
		return wire.TypeFloat
	case "DOUBLE":
		return wire.TypeDouble
	default:
		return wire.TypeString
	}
}

func isDecimalType(t byte) bool {
	return t == wire.TypeNewDecimal || t == wire.TypeDecimal
}

func translateErr(err error) error {
	if merr, ok := err.(*driver.MySQLError); ok {
		state := strings.TrimRight(string(merr.SQLState[:]), "\x00")
		if state == "" {
			state = "HY000"
		}
		return &Error{Code: merr.Number, SQLState: state, Message: merr.Message}
	}
	return &Error{Code: 2000, SQLState: "HY000", Message: err.Error()}
}
