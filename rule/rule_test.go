package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	vars map[string]interface{}
}

func (c *fakeConn) Get(name string) interface{} { return c.vars[name] }
func (c *fakeConn) Set(name string, v interface{}) {
	if c.vars == nil {
		c.vars = map[string]interface{}{}
	}
	c.vars[name] = v
}
func (c *fakeConn) Username() string   { return "tester" }
func (c *fakeConn) Database() string   { return "" }
func (c *fakeConn) RemoteHost() string { return "127.0.0.1" }

func TestLiteralResolve(t *testing.T) {
	r := Lit("world")
	v, err := r.Resolve("hello", nil, &fakeConn{})
	require.NoError(t, err)
	assert.Equal(t, "world", v)
}

func TestFuncResolveReceivesCapturesAndConn(t *testing.T) {
	var gotQuery string
	var gotCaptures []string
	var gotUser string
	f := Func(func(query string, captures []string, conn ConnAPI) (interface{}, error) {
		gotQuery = query
		gotCaptures = captures
		gotUser = conn.Username()
		return nil, nil
	})
	_, err := f.Resolve("SELECT 1", []string{"1"}, &fakeConn{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", gotQuery)
	assert.Equal(t, []string{"1"}, gotCaptures)
	assert.Equal(t, "tester", gotUser)
}

func TestHasForwardGate(t *testing.T) {
	cases := []struct {
		rule Rule
		want bool
	}{
		{Rule{}, false},
		{Rule{DBH: "default"}, true},
		{Rule{DSN: Lit("dsn://")}, true},
		{Rule{Forward: Lit(true)}, true},
	}
	for i, c := range cases {
		assert.Equalf(t, c.want, c.rule.HasForwardGate(), "case %d", i)
	}
}
