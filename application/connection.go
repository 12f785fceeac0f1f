package application

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"quictransport/domain/streamid"
	"quictransport/infrastructure/conn"
	"quictransport/infrastructure/events"
	"quictransport/infrastructure/logging"
	"quictransport/infrastructure/telemetry/trafficstats"
)

// Connection is the facade exposed to callers: `Connection::new`,
// `connect`, `open_stream`, `write`, `read`, `reset_stream`,
// `send_datagram`, `next_event`, `close`, and `stats`. It owns the UDP
// socket and the C12 state machine's driving loop, and is the only type
// a caller outside this module needs to know about.
type Connection struct {
	cfg    Config
	logger logging.Logger

	core   *conn.Connection
	socket net.PacketConn

	runCancel context.CancelFunc
	runDone   chan error
}

// New builds a Connection in its idle state. No socket is opened and no
// handshake begins until Connect is called.
func New(cfg Config) (*Connection, error) {
	cfg = cfg.withDefaults()
	return &Connection{cfg: cfg, logger: cfg.Logger}, nil
}

// Connect opens a UDP socket, dials host:port, and starts the
// handshake. It returns once the handshake has been started, not once
// it has completed; await a KindHandshakeComplete event via NextEvent
// (or poll Stats) for that. The connection's read and timer loops run
// in background goroutines for the lifetime of the Connection.
func (c *Connection) Connect(ctx context.Context, host string, port int) error {
	if c.core != nil {
		return fmt.Errorf("application: Connect already called")
	}

	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("application: resolve %s:%d: %w", host, port, err)
	}
	cc := c.cfg.toConnConfig()
	if err := cc.Validate(); err != nil {
		return fmt.Errorf("application: %w", err)
	}
	socket, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("application: open socket: %w", err)
	}

	core, err := conn.New(c.cfg.toConnConfig(), socket)
	if err != nil {
		_ = socket.Close()
		return fmt.Errorf("application: build connection: %w", err)
	}
	if err := core.Dial(ctx, remote, c.cfg.TLSConfig); err != nil {
		_ = socket.Close()
		return fmt.Errorf("application: dial %s:%d: %w", host, port, err)
	}

	c.socket = socket
	c.core = core

	runCtx, cancel := context.WithCancel(context.Background())
	c.runCancel = cancel
	c.runDone = make(chan error, 1)

	if c.cfg.Collector != nil {
		trafficstats.SetGlobal(c.cfg.Collector)
		go c.cfg.Collector.Start(runCtx)
	}

	go func() {
		err := core.Run(runCtx)
		_ = socket.Close()
		if err != nil {
			c.logger.Printf("application: connection loop for %s:%d ended: %v", host, port, err)
		}
		c.runDone <- err
	}()

	c.logger.Printf("application: dialing %s:%d (version %#x)", host, port, uint32(c.cfg.Version))
	return nil
}

// OpenStream allocates a new locally initiated stream.
func (c *Connection) OpenStream(dir streamid.Direction) (streamid.ID, error) {
	if c.core == nil {
		return 0, errNotConnected
	}
	s, err := c.core.OpenStream(dir)
	if err != nil {
		return 0, err
	}
	return s.ID, nil
}

// Write appends p to a stream's send buffer, blocking until flow control
// has accepted every byte of p; the returned count is less than len(p)
// only together with an error. If fin is true and every byte of p was
// accepted, the stream's send side is closed immediately after.
func (c *Connection) Write(ctx context.Context, id streamid.ID, p []byte, fin bool) (int, error) {
	if c.core == nil {
		return 0, errNotConnected
	}
	n, err := c.core.WriteStream(ctx, id, p)
	if err != nil {
		return n, err
	}
	if fin && n == len(p) {
		if err := c.core.CloseStream(id); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Read returns up to max bytes from a stream's reassembled receive
// buffer, blocking until data (or FIN, reset, or ctx cancellation) is
// available.
func (c *Connection) Read(ctx context.Context, id streamid.ID, max int) ([]byte, bool, error) {
	if c.core == nil {
		return nil, false, errNotConnected
	}
	buf := make([]byte, max)
	n, fin, err := c.core.ReadStream(ctx, id, buf)
	if err != nil {
		return nil, false, err
	}
	return buf[:n], fin, nil
}

// ResetStream abandons a stream's send side locally.
func (c *Connection) ResetStream(id streamid.ID, code uint64) error {
	if c.core == nil {
		return errNotConnected
	}
	return c.core.ResetStream(id, code)
}

// SendDatagram queues an unreliable QUIC DATAGRAM frame payload. It
// reports false only when the connection cannot accept datagrams right
// now (not yet connected, or already closing).
func (c *Connection) SendDatagram(data []byte) (bool, error) {
	if c.core == nil {
		return false, errNotConnected
	}
	if err := c.core.SendDatagram(data); err != nil {
		return false, err
	}
	return true, nil
}

// NextEvent blocks until the next connection event (handshake
// completion, stream activity, a datagram, path validation, or close)
// is available, or ctx is canceled.
func (c *Connection) NextEvent(ctx context.Context) (events.Event, error) {
	if c.core == nil {
		return events.Event{}, errNotConnected
	}
	return c.core.Events().Next(ctx)
}

// Close begins an application-initiated close: an APPLICATION_CLOSE
// frame with code and reason is scheduled and the connection enters its
// close/drain sequence on the background timer loop. Close does not
// block; call Wait to observe the loop's eventual exit.
func (c *Connection) Close(code uint64, reason string) {
	if c.core == nil {
		return
	}
	c.core.Close(code, reason)
}

// Wait blocks until the connection's background read/timer loop
// (conn.Connection.Run) has exited, returning the loop's terminal error,
// if any. The loop runs on its own context; canceling the ctx passed to
// Connect does not stop it.
func (c *Connection) Wait() error {
	if c.runDone == nil {
		return nil
	}
	return <-c.runDone
}

// Stats reports the connection's live RTT, byte counters, congestion
// window, pacing rate, and stream count.
func (c *Connection) Stats() conn.Stats {
	if c.core == nil {
		return conn.Stats{}
	}
	return c.core.Stats()
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() conn.State {
	if c.core == nil {
		return conn.StateIdle
	}
	return c.core.State()
}

var errNotConnected = fmt.Errorf("application: Connect has not been called yet")
