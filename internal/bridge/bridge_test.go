package bridge

import (
	"testing"

	driver "github.com/go-sql-driver/mysql"

	"github.com/ruleserver/mysqlrules/internal/wire"
)

func TestIsWriteStatement(t *testing.T) {
	cases := map[string]bool{
		"SELECT 1":                    false,
		"  select * from t":           false,
		"INSERT INTO t VALUES (1)":    true,
		"update t set a=1":            true,
		"DELETE FROM t WHERE id = 1":  true,
		"SHOW TABLES":                 false,
		"CREATE TABLE t (id INT)":     true,
	}
	for query, want := range cases {
		if got := isWriteStatement(query); got != want {
			t.Errorf("isWriteStatement(%q) = %v want %v", query, got, want)
		}
	}
}

func TestMysqlTypeFor(t *testing.T) {
	if got := mysqlTypeFor("INT"); got != wire.TypeLong {
		t.Errorf("INT -> %x want %x", got, wire.TypeLong)
	}
	if got := mysqlTypeFor("DECIMAL"); got != wire.TypeNewDecimal {
		t.Errorf("DECIMAL -> %x want %x", got, wire.TypeNewDecimal)
	}
	if got := mysqlTypeFor("VARCHAR"); got != wire.TypeString {
		t.Errorf("VARCHAR -> %x want %x (default)", got, wire.TypeString)
	}
}

func TestTranslateErrWithMySQLError(t *testing.T) {
	src := &driver.MySQLError{Number: 1146, Message: "Table 'x.y' doesn't exist"}
	copy(src.SQLState[:], "42S02")

	err := translateErr(src)
	be, ok := err.(*Error)
	if !ok {
		t.Fatalf("translateErr did not return *Error, got %T", err)
	}
	if be.Code != 1146 || be.SQLState != "42S02" {
		t.Fatalf("got code=%d sqlstate=%q", be.Code, be.SQLState)
	}
}

func TestTranslateErrDefaultsWhenUnknown(t *testing.T) {
	err := translateErr(errPlain("boom"))
	be := err.(*Error)
	if be.Code != 2000 || be.SQLState != "HY000" {
		t.Fatalf("got code=%d sqlstate=%q", be.Code, be.SQLState)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
