// Package fluxtype holds the data model shared by every core component:
// targets, probe results, fetch plans, chunks, and the small value types
// the controllers pass between each other.
package fluxtype

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Target is an immutable, resolved reference to a remote object. It is
// parsed once at the start of a fetch and never mutated for its duration.
type Target struct {
	Raw    string
	Scheme string
	Host   string
	Port   string
	Path   string
	Query  string
}

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ftp":   "21",
	"sftp":  "22",
	"scp":   "22",
}

// ParseTarget parses a raw URL string into a Target, filling in the
// scheme's default port when one is not given explicitly.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return Target{}, fmt.Errorf("invalid URL %q: missing scheme or host", raw)
	}

	port := u.Port()
	if port == "" {
		port = defaultPorts[u.Scheme]
	}

	return Target{
		Raw:    raw,
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   u.Path,
		Query:  u.RawQuery,
	}, nil
}

// HostPort returns "host:port", suitable for net.Dial.
func (t Target) HostPort() string {
	return t.Host + ":" + t.Port
}

func (t Target) String() string { return t.Raw }

// TLSSummary is the result of a deep TLS inspection run alongside an HTTPS
// probe, independent of the handshake the HTTP client itself performs.
type TLSSummary struct {
	Version           uint16
	CipherSuite       uint16
	Issuer            string
	SANs              []string
	NotAfter          time.Time
	SHA256Fingerprint [32]byte
}

func (t TLSSummary) FingerprintHex() string {
	return fmt.Sprintf("%x", t.SHA256Fingerprint)
}

// ProbeResult is produced by a protocol handler's Probe operation.
type ProbeResult struct {
	Protocol             string // negotiated protocol label, e.g. "HTTP/2", "FTP"
	PeerAddr             string
	ServerID             string
	Latency              time.Duration
	TLS                  *TLSSummary // nil when not TLS or inspection failed
	ContentLength        int64       // -1 when unknown
	SupportsRange        bool
	SupportsResume       bool
	ContentType          string
	ETag                 string
	LastModified         time.Time
	MaxConcurrentStreams int // 0 = unbounded
}

// LengthKnown reports whether the probe discovered a definite content length.
func (p ProbeResult) LengthKnown() bool { return p.ContentLength >= 0 }

// Mode is the execution strategy chosen for a fetch.
type Mode int

const (
	ModeParallel Mode = iota
	ModeSingle
	ModeStream
	ModeMirror
)

func (m Mode) String() string {
	switch m {
	case ModeParallel:
		return "PARALLEL"
	case ModeSingle:
		return "SINGLE"
	case ModeStream:
		return "STREAM"
	case ModeMirror:
		return "MIRROR"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(m)) + ")"
	}
}

// FetchPlan is derived from a ProbeResult plus the caller's request.
type FetchPlan struct {
	Mode               Mode
	Target             Target
	Mirrors            []Target
	OutputPath         string
	AssemblyPath       string
	InitialConcurrency int
	MinConnections     int
	MaxConnections     int
	MinChunkSize       int64
	MaxChunkSize       int64
	TotalSize          int64 // -1 when unknown
	ResumeOffset       int64
	ExpectedHash       string // hex sha256, optional
	ETag               string
	LastModified       time.Time
}

// ChunkState is the lifecycle state of a single byte-range unit of work.
type ChunkState int

const (
	ChunkPending ChunkState = iota
	ChunkInFlight
	ChunkLanded
	ChunkFailed
)

func (s ChunkState) String() string {
	switch s {
	case ChunkPending:
		return "PENDING"
	case ChunkInFlight:
		return "IN_FLIGHT"
	case ChunkLanded:
		return "LANDED"
	case ChunkFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Chunk is a contiguous byte range [Offset, Offset+Length) of the target.
type Chunk struct {
	Offset   int64
	Length   int64
	State    ChunkState
	Attempt  int
	StreamID string
}

// End returns the exclusive end offset of the chunk.
func (c Chunk) End() int64 { return c.Offset + c.Length }

// TransferSample is one (timestamp, bytes) observation fed to the bandwidth
// estimator.
type TransferSample struct {
	Timestamp time.Time
	Bytes     int64
	Elapsed   time.Duration
}

// Direction describes the trend of the last concurrency adjustment.
type Direction int

const (
	DirectionSteady Direction = iota
	DirectionUp
	DirectionDown
)

// ConnectionBudget is the optimizer's advisory state.
type ConnectionBudget struct {
	Target            int
	LastAdjustment    time.Time
	LastThroughput    float64
	LastDirection     Direction
}

// RetryVerdict is the outcome a retry classifier assigns to an error.
type RetryVerdict int

const (
	RetryNow RetryVerdict = iota
	RetryAfter
	RetryFail
)

// RetryDecision is what the retry classifier returns for a given error.
type RetryDecision struct {
	Verdict  RetryVerdict
	Delay    time.Duration
	Category string
}

// SuccessResult is the terminal record for a fetch that completed normally.
type SuccessResult struct {
	Bytes           int64
	Duration        time.Duration
	AvgThroughput   float64
	SHA256          string
	Protocol        string
	ConnectionsUsed int
}

// FailureResult is the terminal record for a fetch that did not complete.
type FailureResult struct {
	Kind         string
	Message      string
	PartialBytes int64
	CanResume    bool
}
