package store

import (
	"time"

	"github.com/grishkovelli/proxypool/pkg/proxyurl"
)

// Status is the lifecycle state of a Proxy, per spec.md §3.
type Status int8

const (
	StatusNew Status = iota
	StatusTesting
	StatusOK
	StatusFail
	StatusBanned
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "NEW"
	case StatusTesting:
		return "TESTING"
	case StatusOK:
		return "OK"
	case StatusFail:
		return "FAIL"
	case StatusBanned:
		return "BANNED"
	default:
		return "UNKNOWN"
	}
}

// Anonymity is the tri-state anonymity verdict recorded for a Proxy.
type Anonymity int8

const (
	AnonymityUnknown Anonymity = iota
	AnonymityYes
	AnonymityNo
)

// Outcome is the terminal result of one ProxyTest, per spec.md §3.
type Outcome int8

const (
	OutcomeOK Outcome = iota
	OutcomeTimeout
	OutcomeConnRefused
	OutcomeBadResponse
	OutcomeNonAnonymous
	OutcomeForbiddenCountry
	OutcomeInternalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "OK"
	case OutcomeTimeout:
		return "TIMEOUT"
	case OutcomeConnRefused:
		return "CONN_REFUSED"
	case OutcomeBadResponse:
		return "BAD_RESPONSE"
	case OutcomeNonAnonymous:
		return "NON_ANONYMOUS"
	case OutcomeForbiddenCountry:
		return "FORBIDDEN_COUNTRY"
	case OutcomeInternalError:
		return "INTERNAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// severity orders outcomes worst-first for --tester-force's "record the
// worst outcome" semantics (spec.md §9 Open Question, resolved in SPEC_FULL.md §8).
func (o Outcome) severity() int {
	switch o {
	case OutcomeInternalError:
		return 6
	case OutcomeForbiddenCountry:
		return 5
	case OutcomeNonAnonymous:
		return 4
	case OutcomeBadResponse:
		return 3
	case OutcomeTimeout:
		return 2
	case OutcomeConnRefused:
		return 1
	default: // OutcomeOK
		return 0
	}
}

// Worse returns the more severe of two outcomes.
func Worse(a, b Outcome) Outcome {
	if a.severity() >= b.severity() {
		return a
	}
	return b
}

// isBanWorthy reports whether a terminal outcome counts toward the
// consecutive-failure ban threshold in spec.md §4.1.
func (o Outcome) isBanWorthy() bool {
	return o == OutcomeConnRefused || o == OutcomeTimeout
}

// Proxy is a distinct endpoint under observation, per spec.md §3.
type Proxy struct {
	ID           int64
	Protocol     proxyurl.Protocol
	IP           uint32
	Port         uint16
	Country      string // empty means null
	Status       Status
	LatencyMs    *int
	Anonymous    Anonymity
	LastTestedAt *time.Time
	FailCount    int
	TestCount    int
	CreatedAt    time.Time
	ModifiedAt   time.Time
}

// Endpoint renders the Proxy's identity as a proxyurl.Endpoint.
func (p *Proxy) Endpoint() proxyurl.Endpoint {
	return proxyurl.Endpoint{
		Protocol: p.Protocol,
		IP:       proxyurl.IPFromUint32(p.IP),
		Port:     p.Port,
	}
}

// ProxyTest is one append-only test event, per spec.md §3.
type ProxyTest struct {
	ID         int64
	ProxyID    int64
	Outcome    Outcome
	LatencyMs  *int
	StartedAt  time.Time
	FinishedAt time.Time
	Info       string
}

// Verdict is the structured result the Test Harness hands to Release.
type Verdict struct {
	Outcome    Outcome
	LatencyMs  *int
	Country    string
	Info       string
	StartedAt  time.Time
	FinishedAt time.Time
	Anonymous  Anonymity
}

// Counters is the aggregate per-status snapshot returned by Stats.
type Counters struct {
	New     int
	Testing int
	OK      int
	Fail    int
	Banned  int
}

func (c Counters) Total() int {
	return c.New + c.Testing + c.OK + c.Fail + c.Banned
}
