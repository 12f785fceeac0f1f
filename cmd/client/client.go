// Package client wires application.Connection (the QUIC transport
// facade) together with infrastructure/http3 (HTTP/3 framing and
// QPACK) to run a single request/response exchange against an HTTP/3
// origin, the same way the teacher's presentation.StartClient wired a
// tunnel session together from its lower-level pieces.
package client

import (
	"context"
	"crypto/tls"
	"fmt"

	"quictransport/application"
	"quictransport/domain/streamid"
	"quictransport/infrastructure/events"
	"quictransport/infrastructure/http3"
	"quictransport/infrastructure/http3/qpack"
	"quictransport/infrastructure/logging"
)

// Run dials host:port, performs the QUIC and HTTP/3 control-stream
// handshakes, issues a single GET path over a freshly opened
// bidirectional stream, and logs the response status and body length to
// logger before closing the connection.
func Run(ctx context.Context, logger logging.Logger, host string, port int, path string) error {
	cfg := application.Config{
		ServerName: host,
		TLSConfig:  &tls.Config{NextProtos: []string{"h3"}},
		Logger:     logger,
	}

	c, err := application.New(cfg)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	if err := c.Connect(ctx, host, port); err != nil {
		return fmt.Errorf("client: connect: %w", err)
	}
	defer c.Close(0, "done")

	if err := awaitHandshake(ctx, c); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	logger.Printf("client: handshake complete with %s:%d", host, port)

	if err := openControlStream(ctx, c); err != nil {
		return fmt.Errorf("client: control stream: %w", err)
	}

	status, body, err := doRequest(ctx, c, host, path)
	if err != nil {
		return fmt.Errorf("client: request: %w", err)
	}
	logger.Printf("client: %s -> status=%s, %d response bytes", path, status, len(body))

	c.Close(0, "request complete")
	return c.Wait()
}

// awaitHandshake drains events until KindHandshakeComplete (or an early
// KindConnectionClose signals the peer rejected the handshake).
func awaitHandshake(ctx context.Context, c *application.Connection) error {
	for {
		e, err := c.NextEvent(ctx)
		if err != nil {
			return err
		}
		switch e.Kind {
		case events.KindHandshakeComplete:
			return nil
		case events.KindConnectionClose:
			return fmt.Errorf("peer closed during handshake: %s", e.CloseReason)
		}
	}
}

// openControlStream opens this client's unidirectional HTTP/3 control
// stream and announces its (zero-capacity, per the QPACK encoder's
// static-table-only Non-goal) dynamic table settings, per RFC 9114
// §6.2.1.
func openControlStream(ctx context.Context, c *application.Connection) error {
	id, err := c.OpenStream(streamid.Unidirectional)
	if err != nil {
		return err
	}
	_, err = c.Write(ctx, id, http3.NewOutboundControlStream(), false)
	return err
}

// doRequest opens a bidirectional request stream, sends a QPACK-encoded
// HEADERS frame for a GET request, and reads the response HEADERS frame
// (and any DATA frames) until the stream's FIN.
func doRequest(ctx context.Context, c *application.Connection, host, path string) (string, []byte, error) {
	id, err := c.OpenStream(streamid.Bidirectional)
	if err != nil {
		return "", nil, err
	}

	reqFields := qpack.EncodeFieldSection([]qpack.HeaderField{
		{Name: ":method", Value: "GET"},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: host},
		{Name: ":path", Value: path},
	})
	headers := http3.NewHeadersFrame(reqFields)
	if _, err := c.Write(ctx, id, headers.AppendTo(nil), true); err != nil {
		return "", nil, err
	}

	rs := http3.NewRequestStream()
	var status string
	var body []byte
	var pending []byte
	for {
		chunk, fin, err := c.Read(ctx, id, 4096)
		if err != nil {
			return "", nil, err
		}
		pending = append(pending, chunk...)

		for {
			f, n, perr := http3.Parse(pending)
			if perr != nil {
				break // incomplete frame, wait for more bytes
			}
			pending = pending[n:]
			if err := rs.OnFrame(f); err != nil {
				return "", nil, err
			}
			switch f.Type {
			case http3.TypeHeaders:
				fields, derr := qpack.DecodeFieldSection(f.Payload)
				if derr != nil {
					return "", nil, derr
				}
				for _, field := range fields {
					if field.Name == ":status" {
						status = field.Value
					}
				}
			case http3.TypeData:
				body = append(body, f.Payload...)
			}
		}

		if fin {
			rs.Close()
			return status, body, nil
		}
	}
}

