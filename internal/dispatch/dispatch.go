// Package dispatch walks the ordered rule list against each client command,
// running the matched rule's hooks and forwarding through the driver bridge
// when nothing terminal was produced locally.
package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/OneOfOne/xxhash"
	"github.com/juju/errors"

	"github.com/ruleserver/mysqlrules/internal/bridge"
	"github.com/ruleserver/mysqlrules/internal/logging"
	"github.com/ruleserver/mysqlrules/internal/protocol"
	"github.com/ruleserver/mysqlrules/internal/state"
	"github.com/ruleserver/mysqlrules/internal/wire"
	"github.com/ruleserver/mysqlrules/rule"
)

// Error kinds a rule walk can terminate with. The dispatcher itself writes
// them as ERR packets through the ResponseWriter it is handed; their text
// is the ERR message.
var (
	ErrNoHandle       = errors.New("no handle; cannot forward")
	ErrUnsupportedCmd = errors.New("command not supported")
)

// Dispatcher walks Rules against every client command. Rules and Bridge
// are shared, read-only state (spec.md §5: "the rule list is read-only
// after startup and may be shared freely"); the per-connection match
// cache lives on state.Conn instead, since memoizing across connections
// a rule list that is read-only and hashing a query that is immutable per
// command is safe but the cache's ownership should track the connection
// it is warmed for.
type Dispatcher struct {
	Rules  []rule.Rule
	Bridge *bridge.Bridge
}

// New builds a Dispatcher over rules, sharing the bridge used to open and
// execute forwarded connections.
func New(rules []rule.Rule, b *bridge.Bridge) *Dispatcher {
	return &Dispatcher{Rules: rules, Bridge: b}
}

// pendingResult accumulates what a rule walk has produced for the command
// currently in flight, before Emit renders it onto the wire.
type pendingResult struct {
	columns []protocol.ColumnDef
	rows    [][]*string
}

// Dispatch runs one client command through the rule list and writes its
// terminal response via resp. ctx bounds any forwarded query execution.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd protocol.Command, conn *state.Conn, resp *protocol.ResponseWriter) error {
	conn.ResetDataSent()
	query := cmd.Text()

	var pending pendingResult

	for i := range d.Rules {
		r := &d.Rules[i]

		if !d.commandGates(r, cmd.Tag, query, conn) {
			continue
		}

		_, captures, ok := d.matchGate(r, query, conn)
		if !ok {
			continue
		}

		if err := d.runBefore(r, query, captures, conn, resp); err != nil {
			return errors.Trace(err)
		}
		if conn.DataSent() {
			if err := d.runAfter(r, query, captures, conn); err != nil {
				return errors.Trace(err)
			}
			break
		}

		forwardQuery := d.rewrite(r, query, captures, conn)

		if err := d.runError(r, query, captures, conn, resp); err != nil {
			return errors.Trace(err)
		}
		if !conn.DataSent() {
			if err := d.runOK(r, query, captures, conn, resp); err != nil {
				return errors.Trace(err)
			}
		}
		if !conn.DataSent() {
			if err := d.collectColumns(r, query, captures, conn, resp, &pending); err != nil {
				return errors.Trace(err)
			}
		}
		if !conn.DataSent() {
			if err := d.collectData(r, query, captures, conn, resp, &pending); err != nil {
				return errors.Trace(err)
			}
		}

		isLast := i == len(d.Rules)-1
		if !conn.DataSent() && len(pending.columns) == 0 && len(pending.rows) == 0 &&
			(r.HasForwardGate() || isLast) {
			if err := d.forward(ctx, r, forwardQuery, captures, conn, resp); err != nil {
				return errors.Trace(err)
			}
		}

		if !conn.DataSent() && (len(pending.columns) > 0 || len(pending.rows) > 0) {
			if err := d.emit(resp, &pending); err != nil {
				return errors.Trace(err)
			}
			conn.MarkDataSent()
		}

		if err := d.runAfter(r, query, captures, conn); err != nil {
			return errors.Trace(err)
		}

		if conn.DataSent() {
			break
		}
	}

	if !conn.DataSent() {
		return d.defaultResponse(ctx, cmd, query, conn, resp)
	}
	return nil
}

// defaultResponse runs when no rule produced a terminal response: QUERY
// still attempts the forward-to-handle fallback (spec §8 scenario 5, "no
// rules, no default handle" still yields ERR 1235, not 1047), INIT_DB
// defaults to selecting the database and emitting OK, and any other
// command tag is genuinely unsupported.
func (d *Dispatcher) defaultResponse(ctx context.Context, cmd protocol.Command, query string, conn *state.Conn, resp *protocol.ResponseWriter) error {
	switch cmd.Tag {
	case wire.ComQuery:
		return errors.Trace(d.forward(ctx, &rule.Rule{}, query, nil, conn, resp))
	case wire.ComInitDB:
		conn.SetDatabase(query)
		conn.MarkDataSent()
		return errors.Trace(resp.WriteOK(0, 0, 0, ""))
	default:
		return errors.Trace(resp.WriteErr(1047, "08S01", ErrUnsupportedCmd.Error()))
	}
}

func (d *Dispatcher) commandGates(r *rule.Rule, tag byte, query string, conn rule.ConnAPI) bool {
	if r.Command == nil {
		return true
	}
	v, err := r.Command.Resolve(query, nil, conn)
	if err != nil {
		logging.L().WithError(err).Warn("dispatch: command resolver failed")
		return false
	}
	wanted, ok := toInt(v)
	if !ok {
		return false
	}
	return byte(wanted) == tag
}

// matchGate resolves r.Match against query. ok reports whether the rule
// matches (including the "no match slot present" case); captures holds any
// regex capture groups.
func (d *Dispatcher) matchGate(r *rule.Rule, query string, conn rule.ConnAPI) (matched bool, captures []string, ok bool) {
	if r.Match == nil {
		return true, nil, true
	}

	c, hasCache := conn.(*state.Conn)

	switch m := r.Match.(type) {
	case string:
		if !hasCache {
			eq := m == query
			return eq, nil, eq
		}
		key := xxhash.Checksum64([]byte("lit\x00" + m + "\x00" + query))
		if e, hit := c.CacheMatch(key); hit {
			return e.Matched, e.Captures, e.Matched
		}
		eq := m == query
		c.CacheStore(key, state.MatchCacheEntry{Matched: eq})
		return eq, nil, eq
	case *regexp.Regexp:
		if !hasCache {
			groups := m.FindStringSubmatch(query)
			if groups == nil {
				return false, nil, false
			}
			return true, groups[1:], true
		}
		key := xxhash.Checksum64([]byte("re\x00" + m.String() + "\x00" + query))
		if e, hit := c.CacheMatch(key); hit {
			return e.Matched, e.Captures, e.Matched
		}
		groups := m.FindStringSubmatch(query)
		if groups == nil {
			c.CacheStore(key, state.MatchCacheEntry{Matched: false})
			return false, nil, false
		}
		caps := groups[1:]
		c.CacheStore(key, state.MatchCacheEntry{Matched: true, Captures: caps})
		return true, caps, true
	default:
		return false, nil, false
	}
}

func (d *Dispatcher) runBefore(r *rule.Rule, query string, captures []string, conn rule.ConnAPI, resp *protocol.ResponseWriter) error {
	if r.Before == nil {
		return nil
	}
	if _, err := r.Before.Resolve(query, captures, conn); err != nil {
		conn.(*state.Conn).MarkDataSent()
		return errors.Trace(resp.WriteErr(1000, "HY000", err.Error()))
	}
	return nil
}

func (d *Dispatcher) rewrite(r *rule.Rule, query string, captures []string, conn rule.ConnAPI) string {
	if r.Rewrite != nil {
		v, err := r.Rewrite.Resolve(query, captures, conn)
		if err != nil {
			logging.L().WithError(err).Warn("dispatch: rewrite resolver failed")
			return query
		}
		if s, ok := v.(string); ok {
			return s
		}
		return query
	}
	if _, isRegexp := r.Match.(*regexp.Regexp); isRegexp && len(captures) > 0 {
		return captures[0]
	}
	return query
}

func (d *Dispatcher) runError(r *rule.Rule, query string, captures []string, conn rule.ConnAPI, resp *protocol.ResponseWriter) error {
	if r.Error == nil {
		return nil
	}
	v, err := r.Error.Resolve(query, captures, conn)
	if err != nil {
		conn.(*state.Conn).MarkDataSent()
		return errors.Trace(resp.WriteErr(1000, "HY000", err.Error()))
	}
	if v == nil {
		return nil
	}
	er, ok := v.(rule.ErrorResult)
	if !ok {
		return nil
	}
	conn.(*state.Conn).MarkDataSent()
	return errors.Trace(resp.WriteErr(er.Code, er.SQLState, er.Message))
}

func (d *Dispatcher) runOK(r *rule.Rule, query string, captures []string, conn rule.ConnAPI, resp *protocol.ResponseWriter) error {
	if r.OK == nil {
		return nil
	}
	v, err := r.OK.Resolve(query, captures, conn)
	if err != nil {
		conn.(*state.Conn).MarkDataSent()
		return errors.Trace(resp.WriteErr(1000, "HY000", err.Error()))
	}
	if v == nil {
		return nil
	}
	result := rule.OKResult{}
	switch t := v.(type) {
	case rule.OKResult:
		result = t
	case bool:
		if !t {
			return nil
		}
	default:
		// any other truthy scalar behaves like bool(true)
	}
	conn.(*state.Conn).MarkDataSent()
	return errors.Trace(resp.WriteOK(result.Affected, result.LastInsertID, result.Warnings, result.Message))
}

func (d *Dispatcher) collectColumns(r *rule.Rule, query string, captures []string, conn rule.ConnAPI, resp *protocol.ResponseWriter, pending *pendingResult) error {
	if r.Columns == nil {
		return nil
	}
	v, err := r.Columns.Resolve(query, captures, conn)
	if err != nil {
		conn.(*state.Conn).MarkDataSent()
		return errors.Trace(resp.WriteErr(1000, "HY000", err.Error()))
	}
	names, ok := v.([]string)
	if !ok {
		return nil
	}
	for _, n := range names {
		pending.columns = append(pending.columns, protocol.DefaultColumnDef(n))
	}
	return nil
}

func (d *Dispatcher) collectData(r *rule.Rule, query string, captures []string, conn rule.ConnAPI, resp *protocol.ResponseWriter, pending *pendingResult) error {
	if r.Data == nil {
		return nil
	}
	v, err := r.Data.Resolve(query, captures, conn)
	if err != nil {
		conn.(*state.Conn).MarkDataSent()
		return errors.Trace(resp.WriteErr(1000, "HY000", err.Error()))
	}
	rows, cols := renderData(v)
	if len(pending.columns) == 0 {
		pending.columns = cols
	}
	pending.rows = rows
	return nil
}

// renderData implements spec's `data` slot polymorphism: a mapping becomes
// two columns (key, value) in sorted-key order; a flat sequence becomes a
// single column; a sequence of sequences becomes row-by-row; a scalar is
// promoted to a one-column, one-row result.
func renderData(v interface{}) ([][]*string, []protocol.ColumnDef) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][]*string, 0, len(keys))
		for _, k := range keys {
			val := stringify(t[k])
			key := k
			rows = append(rows, []*string{&key, &val})
		}
		return rows, []protocol.ColumnDef{protocol.DefaultColumnDef("key"), protocol.DefaultColumnDef("value")}
	case [][]interface{}:
		rows := make([][]*string, len(t))
		var width int
		for i, r := range t {
			if len(r) > width {
				width = len(r)
			}
			row := make([]*string, len(r))
			for j, cell := range r {
				s := stringify(cell)
				row[j] = &s
			}
			rows[i] = row
		}
		cols := make([]protocol.ColumnDef, width)
		for i := range cols {
			cols[i] = protocol.DefaultColumnDef(strconv.Itoa(i))
		}
		return rows, cols
	case []interface{}:
		rows := make([][]*string, len(t))
		for i, cell := range t {
			s := stringify(cell)
			rows[i] = []*string{&s}
		}
		return rows, []protocol.ColumnDef{protocol.DefaultColumnDef("0")}
	case nil:
		return nil, nil
	default:
		s := stringify(t)
		return [][]*string{{&s}}, []protocol.ColumnDef{protocol.DefaultColumnDef("0")}
	}
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}

func (d *Dispatcher) forward(ctx context.Context, r *rule.Rule, query string, captures []string, conn rule.ConnAPI, resp *protocol.ResponseWriter) error {
	c := conn.(*state.Conn)

	if r.DSN != nil {
		v, err := r.DSN.Resolve(query, captures, conn)
		if err != nil {
			c.MarkDataSent()
			return errors.Trace(resp.WriteErr(1000, "HY000", err.Error()))
		}
		if addr, ok := v.(string); ok && addr != "" {
			conn.Set("dsn", addr)
		}
	} else if r.Forward != nil {
		v, err := r.Forward.Resolve(query, captures, conn)
		if err != nil {
			c.MarkDataSent()
			return errors.Trace(resp.WriteErr(1000, "HY000", err.Error()))
		}
		if addr, ok := v.(string); ok && addr != "" {
			conn.Set("dsn", addr)
		}
	}

	if c.Handle == nil {
		c.MarkDataSent()
		return errors.Trace(resp.WriteErr(1235, "42000", ErrNoHandle.Error()))
	}

	result, err := d.Bridge.Execute(ctx, c.Handle, query)
	if err != nil {
		c.MarkDataSent()
		if be, ok := err.(*bridge.Error); ok {
			return errors.Trace(resp.WriteErr(be.Code, be.SQLState, be.Message))
		}
		return errors.Trace(resp.WriteErr(2000, "HY000", err.Error()))
	}

	c.MarkDataSent()
	if result.Columns == nil && result.Rows == nil {
		return errors.Trace(resp.WriteOK(result.Affected, result.LastInsertID, 0, ""))
	}
	cols := make([]protocol.ColumnDef, len(result.Columns))
	for i, cm := range result.Columns {
		cols[i] = protocol.ColumnDef{
			Catalog: "def",
			Name:    cm.Name,
			OrgName: cm.Name,
			Charset: uint16(wire.DefaultCharset),
			Length:  cm.Length,
			Type:    cm.Type,
		}
	}
	return errors.Trace(resp.WriteResultSet(cols, result.Rows))
}

func (d *Dispatcher) emit(resp *protocol.ResponseWriter, pending *pendingResult) error {
	return errors.Trace(resp.WriteResultSet(pending.columns, pending.rows))
}

func (d *Dispatcher) runAfter(r *rule.Rule, query string, captures []string, conn rule.ConnAPI) error {
	if r.After == nil {
		return nil
	}
	if _, err := r.After.Resolve(query, captures, conn); err != nil {
		logging.L().WithError(err).Warn("dispatch: after hook failed")
	}
	return nil
}

func toInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case byte:
		return int(t), true
	default:
		return 0, false
	}
}
