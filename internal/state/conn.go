// Package state holds the per-connection, per-accepted-socket state the
// spec describes: username, requested database, remote host, active SQL
// handle, default/remote DSN credentials, the named-variable bag, and the
// transient data_sent flag. None of it is shared between connections.
package state

import (
	"database/sql"
	"sync"

	"github.com/ruleserver/mysqlrules/internal/bridge"
	"github.com/ruleserver/mysqlrules/internal/logging"
)

// Credentials names a DSN plus the user/password to authenticate a forward
// connection with.
type Credentials struct {
	Addr     string
	User     string
	Password string
}

// Conn is one connection's mutable state. It implements rule.ConnAPI.
// Conn is owned by exactly one worker goroutine; the mutex only guards
// against a rule callable and the dispatcher racing on the variable bag
// within that single goroutine's reentrant calls (spec: rule callables must
// not be assumed reentrant, but defensive locking costs nothing here).
type Conn struct {
	mu sync.Mutex

	username   string
	database   string
	remoteHost string

	Handle *sql.DB

	Default Credentials
	Remote  Credentials

	vars     map[string]interface{}
	dataSent bool

	bridge *bridge.Bridge

	matchCache map[uint64]MatchCacheEntry
}

// MatchCacheEntry is one memoized rule-match outcome: whether the rule
// matched, and any regex capture groups produced.
type MatchCacheEntry struct {
	Matched  bool
	Captures []string
}

// New creates connection state seeded with the startup DSN fields, per the
// Connection Orchestrator's contract (spec §4.7: "a fresh variable bag
// seeded with startup DSN fields").
func New(b *bridge.Bridge, remoteHost string, def, remote Credentials) *Conn {
	c := &Conn{
		remoteHost: remoteHost,
		Default:    def,
		Remote:     remote,
		vars:       make(map[string]interface{}),
		bridge:     b,
	}
	c.vars["dsn"] = def.Addr
	c.vars["remote_dsn"] = remote.Addr
	return c
}

// Get returns the named variable, or nil if unset.
func (c *Conn) Get(name string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vars[name]
}

// Set stores a named variable. Setting "dsn" additionally reconnects the
// active handle, per spec §9: "setting `dsn` additionally triggers the
// driver bridge to (re)connect and swap the connection's active handle —
// this side effect is part of the contract."
func (c *Conn) Set(name string, value interface{}) {
	c.mu.Lock()
	c.vars[name] = value
	c.mu.Unlock()

	if name != "dsn" {
		return
	}
	addr, ok := value.(string)
	if !ok || addr == "" {
		return
	}
	handle, err := c.bridge.Open(addr, c.Default.User, c.Default.Password, c.database)
	if err != nil {
		logging.L().WithError(err).WithField("dsn", addr).Warn("state: dsn reconnect failed")
		return
	}
	c.mu.Lock()
	old := c.Handle
	c.Handle = handle
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Username returns the authenticated user name.
func (c *Conn) Username() string { return c.username }

// SetUsername records the authenticated user name (called once, after
// handshake completes).
func (c *Conn) SetUsername(u string) { c.username = u }

// Database returns the currently selected schema.
func (c *Conn) Database() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.database
}

// SetDatabase records the currently selected schema (INIT_DB or handshake).
func (c *Conn) SetDatabase(db string) {
	c.mu.Lock()
	c.database = db
	c.mu.Unlock()
}

// RemoteHost returns the client's peer address.
func (c *Conn) RemoteHost() string { return c.remoteHost }

// DataSent reports whether a terminal response has already been written
// for the command currently being dispatched.
func (c *Conn) DataSent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dataSent
}

// MarkDataSent sets the transient data_sent flag.
func (c *Conn) MarkDataSent() {
	c.mu.Lock()
	c.dataSent = true
	c.mu.Unlock()
}

// ResetDataSent clears data_sent at the start of a new dispatch cycle.
func (c *Conn) ResetDataSent() {
	c.mu.Lock()
	c.dataSent = false
	c.mu.Unlock()
}

// CacheMatch looks up a memoized rule-match outcome for key (typically a
// hash of the rule's match slot plus the query text). The cache is
// per-connection: a query is immutable within one command and rules are
// read-only, so memoizing here is safe without invalidation.
func (c *Conn) CacheMatch(key uint64) (MatchCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.matchCache[key]
	return e, ok
}

// CacheStore records a rule-match outcome for key.
func (c *Conn) CacheStore(key uint64, e MatchCacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matchCache == nil {
		c.matchCache = make(map[uint64]MatchCacheEntry)
	}
	c.matchCache[key] = e
}

// Close releases the active handle, if any.
func (c *Conn) Close() {
	c.mu.Lock()
	h := c.Handle
	c.Handle = nil
	c.mu.Unlock()
	if h != nil {
		h.Close()
	}
}
