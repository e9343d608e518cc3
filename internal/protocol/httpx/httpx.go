// Package httpx implements the protocol.Handler contract for HTTP/1.1,
// HTTP/2, and HTTP/3, per spec §4.6. Grounded on the teacher's
// internal/protocol/http Handler/Connection (HEAD-then-Range-GET-then-GET
// probing fallback chain, generateRequest/generateInfo shape), extended
// with golang.org/x/net/http2 and quic-go/http3 transports and a TLS deep
// inspection pass independent of the request's own handshake.
package httpx

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"

	"github.com/NamanBalaji/fluxion/internal/connpool"
	"github.com/NamanBalaji/fluxion/internal/ferrors"
	"github.com/NamanBalaji/fluxion/internal/fluxtype"
	"github.com/NamanBalaji/fluxion/internal/logx"
	"github.com/NamanBalaji/fluxion/internal/protocol"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	defaultUserAgent      = "fluxctl/1.0"
)

// Handler serves http and https targets over HTTP/1.1, HTTP/2 (ALPN
// negotiated) and HTTP/3 (attempted first for https targets, falling back
// to the h1/h2 client when QUIC is blocked or the peer doesn't speak it).
type Handler struct {
	client   *http.Client // negotiates h1/h2 via ALPN
	h3Client *http.Client // QUIC transport, https only
	log      logx.Logger
}

// NewHandler builds the HTTP family handler.
func NewHandler() *Handler {
	httpTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxConnsPerHost:       32,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if err := http2.ConfigureTransport(httpTransport); err != nil {
		// ConfigureTransport only fails on a misconfigured transport; the
		// literal above is always valid, so this is unreachable in practice.
		log := logx.Named("protocol.httpx")
		log.Warn().Err(err).Msg("http2 configuration failed, falling back to h1")
	}

	return &Handler{
		client:   &http.Client{Transport: httpTransport},
		h3Client: &http.Client{Transport: &http3.Transport{}},
		log:      logx.Named("protocol.httpx"),
	}
}

func (h *Handler) Schemes() []string { return []string{"http", "https"} }

// MaxConcurrentStreams reports the cap recorded in the probe result, or 0
// (no cap) when the probe recorded none.
func (h *Handler) MaxConcurrentStreams(probe fluxtype.ProbeResult) int {
	if probe.MaxConcurrentStreams > 0 {
		return probe.MaxConcurrentStreams
	}
	return 0 // unbounded; caller's optimizer decides
}

// Probe issues a HEAD request, falling back to a Range GET and then a
// plain GET when the server rejects HEAD, mirroring the teacher's
// initializeWithHEAD/RangeGET/RegularGET chain.
func (h *Handler) Probe(ctx context.Context, target fluxtype.Target, opts protocol.Options) (fluxtype.ProbeResult, error) {
	for _, client := range h.candidateClients(target) {
		res, err := h.probeHEAD(ctx, client, target, opts)
		if err == nil {
			return h.withTLS(ctx, target, opts, res)
		}
		h.log.Debug().Err(err).Str("target", target.Raw).Msg("HEAD probe failed, trying range GET")

		res, err = h.probeRangeGET(ctx, client, target, opts)
		if err == nil {
			return h.withTLS(ctx, target, opts, res)
		}
		h.log.Debug().Err(err).Str("target", target.Raw).Msg("range GET probe failed, trying plain GET")

		res, err = h.probePlainGET(ctx, client, target, opts)
		if err == nil {
			return h.withTLS(ctx, target, opts, res)
		}
		h.log.Debug().Err(err).Str("target", target.Raw).Msg("all probe strategies failed on this transport")
	}
	return fluxtype.ProbeResult{}, ferrors.NewTransientNetwork(fmt.Errorf("no transport reached %s", target.Raw), target.Raw)
}

// candidateClients orders the transports to try: HTTP/3 first for https
// targets (opportunistic; quic-go returns an error quickly when QUIC is
// blocked or unsupported), then the ALPN h1/h2 client.
func (h *Handler) candidateClients(target fluxtype.Target) []*http.Client {
	if target.Scheme == "https" {
		return []*http.Client{h.h3Client, h.client}
	}
	return []*http.Client{h.client}
}

func (h *Handler) probeHEAD(ctx context.Context, client *http.Client, target fluxtype.Target, opts protocol.Options) (fluxtype.ProbeResult, error) {
	cctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	req, err := h.newRequest(cctx, http.MethodHead, target, opts)
	if err != nil {
		return fluxtype.ProbeResult{}, ferrors.NewLocalIo(err, target.Raw)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fluxtype.ProbeResult{}, classifyTransportErr(err, target.Raw)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		return fluxtype.ProbeResult{}, ferrors.NewHTTPStatus(resp.StatusCode, target.Raw, retryAfter(resp))
	}

	// The HEAD response advertising Accept-Ranges is necessary but not
	// sufficient per spec §4.6: only a successful 1-byte range request
	// confirms the server actually honors Range.
	advertised := resp.Header.Get("Accept-Ranges") == "bytes"
	supportsRange := advertised && h.confirmsRange(cctx, client, target, opts)

	return resultFromResponse(resp, latency, resp.ContentLength, supportsRange), nil
}

// confirmsRange issues a 1-byte range GET and reports whether the server
// actually answers it with 206 Partial Content, per spec §4.6.
func (h *Handler) confirmsRange(ctx context.Context, client *http.Client, target fluxtype.Target, opts protocol.Options) bool {
	req, err := h.newRequest(ctx, http.MethodGet, target, opts)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusPartialContent
}

func (h *Handler) probeRangeGET(ctx context.Context, client *http.Client, target fluxtype.Target, opts protocol.Options) (fluxtype.ProbeResult, error) {
	cctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	req, err := h.newRequest(cctx, http.MethodGet, target, opts)
	if err != nil {
		return fluxtype.ProbeResult{}, ferrors.NewLocalIo(err, target.Raw)
	}
	req.Header.Set("Range", "bytes=0-0")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fluxtype.ProbeResult{}, classifyTransportErr(err, target.Raw)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		return fluxtype.ProbeResult{}, ferrors.NewHTTPStatus(resp.StatusCode, target.Raw, retryAfter(resp))
	}
	if resp.StatusCode != http.StatusPartialContent {
		return fluxtype.ProbeResult{}, ferrors.NewProtocolDegraded(fmt.Errorf("server ignored Range header, status %d", resp.StatusCode), target.Raw)
	}

	total := int64(-1)
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 {
			if size, perr := strconv.ParseInt(cr[idx+1:], 10, 64); perr == nil {
				total = size
			}
		}
	}
	return resultFromResponse(resp, latency, total, true), nil
}

func (h *Handler) probePlainGET(ctx context.Context, client *http.Client, target fluxtype.Target, opts protocol.Options) (fluxtype.ProbeResult, error) {
	cctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	req, err := h.newRequest(cctx, http.MethodGet, target, opts)
	if err != nil {
		return fluxtype.ProbeResult{}, ferrors.NewLocalIo(err, target.Raw)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fluxtype.ProbeResult{}, classifyTransportErr(err, target.Raw)
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode >= 400 {
		return fluxtype.ProbeResult{}, ferrors.NewHTTPStatus(resp.StatusCode, target.Raw, retryAfter(resp))
	}
	return resultFromResponse(resp, latency, resp.ContentLength, false), nil
}

func (h *Handler) newRequest(ctx context.Context, method string, target fluxtype.Target, opts protocol.Options) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.Raw, http.NoBody)
	if err != nil {
		return nil, err
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func resultFromResponse(resp *http.Response, latency time.Duration, total int64, supportsRange bool) fluxtype.ProbeResult {
	var lastMod time.Time
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := time.Parse(time.RFC1123, lm); err == nil {
			lastMod = t
		}
	}
	return fluxtype.ProbeResult{
		Protocol:       resp.Proto,
		Latency:        latency,
		ContentLength:  total,
		SupportsRange:  supportsRange,
		SupportsResume: supportsRange,
		ContentType:    resp.Header.Get("Content-Type"),
		ETag:           resp.Header.Get("ETag"),
		LastModified:   lastMod,
	}
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// classifyTransportErr maps a client.Do failure to a FetchError. Every
// transport-level failure (dial, handshake, timeout, connection reset) is
// transient; HTTP status codes are classified separately by NewHTTPStatus.
func classifyTransportErr(err error, resource string) error {
	return ferrors.NewTransientNetwork(err, resource)
}

// withTLS runs a deep TLS inspection independent of the probe request's
// own handshake, and rejects the probe outright on a pin mismatch.
func (h *Handler) withTLS(ctx context.Context, target fluxtype.Target, opts protocol.Options, res fluxtype.ProbeResult) (fluxtype.ProbeResult, error) {
	if target.Scheme != "https" {
		return res, nil
	}
	summary, err := inspectTLS(ctx, target, opts)
	if err != nil {
		if kind, ok := ferrors.Kindof(err); ok && kind == ferrors.PinMismatch {
			return fluxtype.ProbeResult{}, err
		}
		h.log.Debug().Err(err).Str("target", target.Raw).Msg("TLS deep inspection failed")
		return res, nil
	}
	res.TLS = &summary
	return res, nil
}

func inspectTLS(ctx context.Context, target fluxtype.Target, opts protocol.Options) (fluxtype.TLSSummary, error) {
	dialer := &net.Dialer{Timeout: defaultConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", target.HostPort())
	if err != nil {
		return fluxtype.TLSSummary{}, err
	}
	defer rawConn.Close()

	tlsConn := tls.Client(rawConn, &tls.Config{
		ServerName:         target.Host,
		InsecureSkipVerify: opts.TLSInsecureSkipVerify,
	})
	defer tlsConn.Close()

	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fluxtype.TLSSummary{}, err
	}

	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fluxtype.TLSSummary{}, fmt.Errorf("no peer certificates presented")
	}
	leaf := state.PeerCertificates[0]
	fingerprint := sha256.Sum256(leaf.Raw)

	summary := fluxtype.TLSSummary{
		Version:           state.Version,
		CipherSuite:       state.CipherSuite,
		Issuer:            leaf.Issuer.String(),
		SANs:              leaf.DNSNames,
		NotAfter:          leaf.NotAfter,
		SHA256Fingerprint: fingerprint,
	}

	if opts.TLSPin != "" && !strings.EqualFold(summary.FingerprintHex(), opts.TLSPin) {
		return summary, ferrors.NewPinMismatch(target.Raw)
	}
	return summary, nil
}

// Open establishes a connection ready to serve ReadRange/ReadAll calls. A
// configured TLS pin is re-checked here since Open may be called directly
// by the scheduler without a preceding Probe (e.g. after a resume). For
// https the HTTP/3 client is used when a HEAD over it succeeds; otherwise
// the h1/h2 client is used.
func (h *Handler) Open(ctx context.Context, target fluxtype.Target, opts protocol.Options) (protocol.Conn, error) {
	if target.Scheme == "https" && opts.TLSPin != "" {
		if _, err := inspectTLS(ctx, target, opts); err != nil {
			return nil, err
		}
	}

	client := h.client
	if target.Scheme == "https" {
		if _, err := h.probeHEAD(ctx, h.h3Client, target, opts); err == nil {
			client = h.h3Client
		}
	}
	return &conn{handler: h, client: client, target: target, opts: opts}, nil
}

// conn is a lightweight, stateless protocol.Conn: each ReadRange/ReadAll
// issues its own request against the shared *http.Client, whose transport
// already pools and multiplexes TCP/TLS connections per host.
type conn struct {
	handler *Handler
	client  *http.Client
	target  fluxtype.Target
	opts    protocol.Options
}

func (c *conn) Key() string {
	return connpool.HashKey(c.target.Raw, c.opts.Headers["Authorization"])
}

func (c *conn) IsAlive() bool { return true }

func (c *conn) Reset(ctx context.Context) error { return nil }

func (c *conn) Close() error { return nil }

func (c *conn) ReadRange(ctx context.Context, w io.Writer, offset, length int64) (int64, error) {
	req, err := c.handler.newRequest(ctx, http.MethodGet, c.target, c.opts)
	if err != nil {
		return 0, ferrors.NewLocalIo(err, c.target.Raw)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, classifyTransportErr(err, c.target.Raw)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, ferrors.NewHTTPStatus(resp.StatusCode, c.target.Raw, retryAfter(resp))
	}
	if resp.StatusCode != http.StatusPartialContent {
		return 0, ferrors.NewProtocolDegraded(fmt.Errorf("server ignored Range header, status %d", resp.StatusCode), c.target.Raw)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, ferrors.NewTransientNetwork(err, c.target.Raw)
	}
	return n, nil
}

func (c *conn) ReadAll(ctx context.Context, w io.Writer) (int64, error) {
	req, err := c.handler.newRequest(ctx, http.MethodGet, c.target, c.opts)
	if err != nil {
		return 0, ferrors.NewLocalIo(err, c.target.Raw)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, classifyTransportErr(err, c.target.Raw)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, ferrors.NewHTTPStatus(resp.StatusCode, c.target.Raw, retryAfter(resp))
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, ferrors.NewTransientNetwork(err, c.target.Raw)
	}
	return n, nil
}
