// Package rule defines the shape a Rule must have to be consumed by the
// dispatcher (internal/dispatch). Loading rules from disk, a database, or
// any other source is an external collaborator's job; this package only
// fixes the contract.
package rule

// ConnAPI is the subset of per-connection state a rule hook may read or
// mutate. Implemented by internal/state.Conn.
type ConnAPI interface {
	// Get returns the named variable from the connection's bag, or nil if
	// unset.
	Get(name string) interface{}
	// Set stores a named variable in the connection's bag. Setting "dsn"
	// additionally (re)connects the connection's active driver handle.
	Set(name string, value interface{})
	// Username is the name the client authenticated as.
	Username() string
	// Database is the database selected via INIT_DB or the handshake, if
	// any.
	Database() string
	// RemoteHost is the client's peer address.
	RemoteHost() string
}

// Resolver is a polymorphic rule slot value: either a constant (Literal) or
// a callable (Func). A nil Resolver means the slot is absent.
type Resolver interface {
	Resolve(query string, captures []string, conn ConnAPI) (interface{}, error)
}

// Literal wraps a constant value as a Resolver.
type Literal struct{ Value interface{} }

// Resolve returns the wrapped value unconditionally.
func (l Literal) Resolve(string, []string, ConnAPI) (interface{}, error) {
	return l.Value, nil
}

// Func adapts a plain function to a Resolver, modeling the first-class
// subroutines a rule record embeds in the source system this dispatcher is
// modeled on.
type Func func(query string, captures []string, conn ConnAPI) (interface{}, error)

// Resolve invokes the wrapped function.
func (f Func) Resolve(query string, captures []string, conn ConnAPI) (interface{}, error) {
	return f(query, captures, conn)
}

// Lit is a convenience constructor for Literal.
func Lit(v interface{}) Resolver { return Literal{Value: v} }

// ErrorResult is the (message, code, sqlstate) triple an `error` slot
// resolves to.
type ErrorResult struct {
	Message  string
	Code     uint16
	SQLState string
}

// OKResult is the (message, affected, insert_id, warnings) tuple an `ok`
// slot may resolve to. A bare truthy scalar resolved by `ok` is equivalent
// to the zero value of OKResult.
type OKResult struct {
	Message     string
	Affected    uint64
	LastInsertID uint64
	Warnings    uint16
}

// Rule is one entry in the ordered rule list the dispatcher walks for every
// client command. Every slot besides Match is a Resolver (or nil for
// absent); Match is handled separately since it is a matcher, not a hook.
type Rule struct {
	// Command, if set, resolves to a command tag (int); the rule is
	// skipped unless it equals the command the client sent.
	Command Resolver

	// Match is either a literal string (compared with == to the query),
	// a *regexp.Regexp (matched against the query, captured groups become
	// positional arguments for later callables), or nil (command-only
	// match, or match-everything if Command is also nil).
	Match interface{}

	Before  Resolver
	Rewrite Resolver

	// DBH names a driver handle identifier already open on the
	// connection; its mere presence marks this rule eligible to forward.
	DBH string
	// DSN, if set, resolves to a DSN string the forward step should
	// (re)connect to before executing.
	DSN Resolver

	Error   Resolver
	OK      Resolver
	Columns Resolver
	Data    Resolver
	After   Resolver

	// Forward, if set, marks this rule eligible to forward even without
	// DBH/DSN; if it resolves to a non-empty string (and DSN is not set),
	// that string is stored as the connection's "dsn" variable, which
	// reconnects the connection's active handle for this and later commands.
	Forward Resolver
}

// HasForwardGate reports whether this rule is forward-eligible per spec: it
// carries a DBH, a DSN, a Forward slot, or is the last rule in the list
// (checked by the caller, not here).
func (r Rule) HasForwardGate() bool {
	return r.DBH != "" || r.DSN != nil || r.Forward != nil
}
