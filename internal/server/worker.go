package server

import (
	"context"
	"net"
	"time"

	"github.com/juju/errors"
	"github.com/k0kubun/pp"

	"github.com/ruleserver/mysqlrules/internal/logging"
	"github.com/ruleserver/mysqlrules/internal/protocol"
	"github.com/ruleserver/mysqlrules/internal/state"
	"github.com/ruleserver/mysqlrules/internal/wire"
)

// worker drives a single accepted connection: handshake, then the command
// loop, until QUIT, an I/O error, or a fatal protocol error.
type worker struct {
	connID     uint32
	conn       net.Conn
	server     *Server
	authPolicy protocol.AuthPolicy

	authenticatedAs string
	authenticatedDB string
}

func (w *worker) run() {
	framer := wire.NewFramer(w.conn)
	log := logging.L().WithField("conn_id", w.connID).WithField("remote", w.conn.RemoteAddr().String())

	if err := w.handshake(framer, log); err != nil {
		if f, ok := AsFault(err); ok && f.Kind == AuthError {
			log.WithError(err).Info("server: authentication failed")
		} else {
			log.WithError(err).Debug("server: handshake failed")
		}
		return
	}

	conn := state.New(w.server.bridge, w.conn.RemoteAddr().String(), w.server.opts.Default, w.server.opts.Remote)
	defer conn.Close()

	if w.server.opts.Default.Addr != "" {
		h, err := w.server.bridge.Open(w.server.opts.Default.Addr, w.server.opts.Default.User, w.server.opts.Default.Password, "")
		if err != nil {
			log.WithError(err).Warn("server: default dsn connect failed")
		} else {
			conn.Handle = h
		}
	}

	w.commandLoop(framer, conn, log)
}

func (w *worker) setDeadline(write bool) {
	var d time.Duration
	if write {
		d = w.server.opts.WriteTimeout
	} else {
		d = w.server.opts.ReadTimeout
	}
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	if write {
		w.conn.SetWriteDeadline(deadline)
	} else {
		w.conn.SetReadDeadline(deadline)
	}
}

func (w *worker) handshake(framer *wire.Framer, log logging.FieldLogger) error {
	scramble, err := protocol.NewScramble()
	if err != nil {
		return Fail(ProtocolError, err)
	}

	greeting := protocol.Greeting{
		ConnectionID: w.connID,
		ServerVersion: w.server.opts.ServerVersion,
		Scramble:      scramble,
	}
	w.setDeadline(true)
	if err := framer.WritePacket(greeting.Encode()); err != nil {
		return Fail(IOError, err)
	}

	w.setDeadline(false)
	payload, err := framer.ReadPacket()
	if err != nil {
		return Fail(IOError, err)
	}
	resp, err := protocol.ParseClientHandshakeResponse(payload)
	if err != nil {
		return Fail(ProtocolError, err)
	}

	if !w.authPolicy.Authenticate(resp.Username, scramble, resp.AuthResponse) {
		w.setDeadline(true)
		_ = protocol.NewResponseWriter(framer).WriteErr(1044, "28000", "Access denied")
		return Fail(AuthError, errors.Errorf("authentication failed for user %q", resp.Username))
	}

	if logging.Debug() {
		pp.Println(resp)
	}

	w.setDeadline(true)
	rw := protocol.NewResponseWriter(framer)
	if err := rw.WriteOK(0, 0, 0, ""); err != nil {
		return Fail(IOError, err)
	}

	w.onAuthenticated(resp)
	return nil
}

func (w *worker) onAuthenticated(resp protocol.ClientHandshakeResponse) {
	w.authenticatedAs = resp.Username
	w.authenticatedDB = resp.Database
}

func (w *worker) commandLoop(framer *wire.Framer, conn *state.Conn, log logging.FieldLogger) {
	conn.SetUsername(w.authenticatedAs)
	if w.authenticatedDB != "" {
		conn.SetDatabase(w.authenticatedDB)
	}
	rw := protocol.NewResponseWriter(framer)

	for {
		framer.ResetSequence()
		w.setDeadline(false)
		raw, err := framer.ReadPacket()
		if err != nil {
			return
		}
		cmd := protocol.DecodeCommand(raw)
		if logging.Debug() {
			pp.Println(cmd.Name(), cmd.Text())
		}

		w.setDeadline(true)
		switch cmd.Tag {
		case wire.ComQuit:
			return
		case wire.ComPing:
			if err := rw.WriteOK(0, 0, 0, ""); err != nil {
				return
			}
		default:
			ctx, cancel := context.WithCancel(context.Background())
			err := w.server.dispatcher.Dispatch(ctx, cmd, conn, rw)
			cancel()
			if err != nil {
				log.WithError(err).Warn("server: dispatch failed, terminating connection")
				return
			}
		}
	}
}
