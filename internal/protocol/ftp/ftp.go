// Package ftp implements the protocol.Handler contract for plain FTP,
// per spec §4.6, using jlaffaye/ftp's control/data channel client and its
// REST-based RetrFrom for range support. Grounded on the shape of the
// teacher's HTTP handler (probe-then-connect, credentials from Options)
// generalized to FTP's control-channel model.
package ftp

import (
	"context"
	"io"
	"net/url"
	"strings"
	"time"

	goftp "github.com/jlaffaye/ftp"

	"github.com/NamanBalaji/fluxion/internal/connpool"
	"github.com/NamanBalaji/fluxion/internal/ferrors"
	"github.com/NamanBalaji/fluxion/internal/fluxtype"
	"github.com/NamanBalaji/fluxion/internal/logx"
	"github.com/NamanBalaji/fluxion/internal/protocol"
)

const dialTimeout = 15 * time.Second

// Handler serves ftp:// targets. FTP's single control channel per session
// means one data connection is open at a time; the spec's SINGLE mode
// applies unless multiple logins are opened (one per parallel stream),
// which this handler does by dialing a separate login on every Open.
type Handler struct {
	log logx.Logger
}

func NewHandler() *Handler {
	return &Handler{log: logx.Named("protocol.ftp")}
}

func (h *Handler) Schemes() []string { return []string{"ftp"} }

// MaxConcurrentStreams is unbounded in principle (the server limits
// concurrent logins), but each stream pays a full login handshake, so the
// scheduler's optimizer should weight FTP conservatively; this handler
// itself does not cap it.
func (h *Handler) MaxConcurrentStreams(probe fluxtype.ProbeResult) int { return 0 }

func (h *Handler) Probe(ctx context.Context, target fluxtype.Target, opts protocol.Options) (fluxtype.ProbeResult, error) {
	conn, err := h.dial(ctx, target, opts)
	if err != nil {
		return fluxtype.ProbeResult{}, err
	}
	defer conn.Quit()

	path := target.Path

	size, sizeErr := conn.FileSize(path)
	if sizeErr != nil {
		h.log.Debug().Err(sizeErr).Str("target", target.Raw).Msg("FTP SIZE command failed")
		size = -1
	}

	lastMod, _ := conn.GetTime(path)

	return fluxtype.ProbeResult{
		Protocol:       "FTP",
		ContentLength:  size,
		SupportsRange:  true, // REST is effectively universal among FTP servers
		SupportsResume: true,
		LastModified:   lastMod,
	}, nil
}

func (h *Handler) Open(ctx context.Context, target fluxtype.Target, opts protocol.Options) (protocol.Conn, error) {
	conn, err := h.dial(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	return &ftpConn{handler: h, conn: conn, target: target, opts: opts}, nil
}

func (h *Handler) dial(ctx context.Context, target fluxtype.Target, opts protocol.Options) (*goftp.ServerConn, error) {
	conn, err := goftp.Dial(target.HostPort(), goftp.DialWithContext(ctx), goftp.DialWithTimeout(dialTimeout))
	if err != nil {
		return nil, ferrors.NewTransientNetwork(err, target.Raw)
	}

	user, pass := credentialsFrom(target, opts)
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, ferrors.NewHTTPStatus(530, target.Raw, 0) // 530 Not logged in, by FTP convention
	}
	return conn, nil
}

func credentialsFrom(target fluxtype.Target, opts protocol.Options) (string, string) {
	if u, err := url.Parse(target.Raw); err == nil && u.User != nil {
		pass, _ := u.User.Password()
		return u.User.Username(), pass
	}
	if user, ok := opts.Headers["Username"]; ok {
		return user, opts.Headers["Password"]
	}
	return "anonymous", "anonymous@"
}

type ftpConn struct {
	handler *Handler
	conn    *goftp.ServerConn
	target  fluxtype.Target
	opts    protocol.Options
}

func (c *ftpConn) Key() string {
	return connpool.HashKey(c.target.Raw, "")
}

func (c *ftpConn) IsAlive() bool {
	return c.conn.NoOp() == nil
}

func (c *ftpConn) Reset(ctx context.Context) error {
	fresh, err := c.handler.dial(ctx, c.target, c.opts)
	if err != nil {
		return err
	}
	c.conn.Quit()
	c.conn = fresh
	return nil
}

func (c *ftpConn) Close() error {
	return c.conn.Quit()
}

func (c *ftpConn) ReadRange(ctx context.Context, w io.Writer, offset, length int64) (int64, error) {
	resp, err := c.conn.RetrFrom(c.target.Path, uint64(offset))
	if err != nil {
		return 0, classifyFTPErr(err, c.target.Raw)
	}
	defer resp.Close()

	n, err := io.Copy(w, io.LimitReader(resp, length))
	if err != nil {
		return n, ferrors.NewTransientNetwork(err, c.target.Raw)
	}
	return n, nil
}

func (c *ftpConn) ReadAll(ctx context.Context, w io.Writer) (int64, error) {
	resp, err := c.conn.Retr(c.target.Path)
	if err != nil {
		return 0, classifyFTPErr(err, c.target.Raw)
	}
	defer resp.Close()

	n, err := io.Copy(w, resp)
	if err != nil {
		return n, ferrors.NewTransientNetwork(err, c.target.Raw)
	}
	return n, nil
}

func classifyFTPErr(err error, resource string) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "550"):
		return ferrors.NewHTTPStatus(404, resource, 0)
	case strings.Contains(msg, "530"):
		return ferrors.NewHTTPStatus(403, resource, 0)
	default:
		return ferrors.NewTransientNetwork(err, resource)
	}
}
