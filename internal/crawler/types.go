package crawler

import (
	"net/http"
	"time"
)

// EntryState represents the lifecycle state of a URL entry.
type EntryState string

// URL entry states owned by the frontier.
const (
	StatePending      EntryState = "pending"
	StateInFlight     EntryState = "in_flight"
	StateCompleted    EntryState = "completed"
	StateFailed       EntryState = "failed"
	StateDeadLettered EntryState = "dead_lettered"
)

// FetchMethod is the fetch strategy a worker should use.
type FetchMethod string

// Supported fetch methods.
const (
	MethodUnknown  FetchMethod = "unknown"
	MethodDirect   FetchMethod = "direct"
	MethodRendered FetchMethod = "rendered"
)

// Rung is a position on the escalation ladder.
type Rung string

// Escalation rungs, in ladder order.
const (
	RungDirect    Rung = "direct"
	RungRendered  Rung = "rendered"
	RungExhausted Rung = "exhausted"
)

// Method maps a rung to the fetch method a worker should use.
func (r Rung) Method() FetchMethod {
	switch r {
	case RungDirect:
		return MethodDirect
	case RungRendered:
		return MethodRendered
	default:
		return MethodUnknown
	}
}

// ErrorClass groups fetch failures for retry accounting.
type ErrorClass string

// Error classes recorded on entries and dead-letter records.
const (
	ErrorClassNone      ErrorClass = ""
	ErrorClassThrottled ErrorClass = "throttled"
	ErrorClassChallenge ErrorClass = "challenge"
	ErrorClassTransport ErrorClass = "transport"
	ErrorClassServer    ErrorClass = "server"
	ErrorClassRedirects ErrorClass = "redirects"
	ErrorClassClient    ErrorClass = "client"
	ErrorClassMalformed ErrorClass = "malformed"
	ErrorClassThinBody  ErrorClass = "thin_body"
	ErrorClassRobots    ErrorClass = "robots"
	ErrorClassLease     ErrorClass = "lease_expired"
)

// TransportError names a network-level failure reported by a worker.
type TransportError string

// Transport failures a worker can report in place of an HTTP status.
const (
	TransportNone    TransportError = ""
	TransportTimeout TransportError = "timeout"
	TransportReset   TransportError = "reset"
	TransportDNS     TransportError = "dns"
	TransportOther   TransportError = "other"
)

// Dead-letter reason codes.
const (
	ReasonRobotsDisallowed   = "robots-disallowed"
	ReasonAntiBotExhausted   = "anti-bot-exhausted"
	ReasonRedirectsExhausted = "redirects-exhausted"
	ReasonClientError        = "client-error"
	ReasonMalformed          = "malformed-response"
	ReasonMaxAttempts        = "max-attempts-exceeded"
	ReasonThrottleExhausted  = "throttle-retries-exhausted"
	ReasonChallengeExhausted = "challenge-retries-exhausted"
	ReasonTransportExhausted = "transport-retries-exhausted"
)

// URLEntry is a single unit of crawl work tracked by the frontier.
type URLEntry struct {
	ID               string             `json:"id"`
	URL              string             `json:"url"`
	Domain           string             `json:"domain"`
	Host             string             `json:"host"`
	Priority         int                `json:"priority"`
	State            EntryState         `json:"state"`
	Attempts         int                `json:"attempts"`
	CategoryAttempts map[ErrorClass]int `json:"category_attempts,omitempty"`
	NextEligibleAt   time.Time          `json:"next_eligible_at"`
	LastError        ErrorClass         `json:"last_error,omitempty"`
	MethodHint       FetchMethod        `json:"method_hint"`
	Rung             Rung               `json:"rung"`
	RenderAttempts   int                `json:"render_attempts"`
	Seq              uint64             `json:"seq"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (e URLEntry) Clone() URLEntry {
	cp := e
	if e.CategoryAttempts != nil {
		cp.CategoryAttempts = make(map[ErrorClass]int, len(e.CategoryAttempts))
		for k, v := range e.CategoryAttempts {
			cp.CategoryAttempts[k] = v
		}
	}
	return cp
}

// FetchOutcome is what a worker reports after attempting a fetch.
type FetchOutcome struct {
	URLID              string
	LeaseID            string
	Method             FetchMethod
	StatusCode         int
	Transport          TransportError
	RetryAfter         time.Duration
	Elapsed            time.Duration
	Bytes              int64
	Challenge          bool
	ThinBody           bool
	RedirectsExhausted bool
	Malformed          bool
}

// Failed reports whether the outcome carries a transport failure instead of a response.
func (o FetchOutcome) Failed() bool {
	return o.Transport != TransportNone
}

// Assignment is a leased unit of work handed to a worker.
type Assignment struct {
	Entry     URLEntry
	Method    FetchMethod
	LeaseID   string
	WorkerID  string
	ExpiresAt time.Time
}

// DeadLetterRecord is appended to the dead-letter sink for every terminal failure.
type DeadLetterRecord struct {
	URLID      string      `json:"url_id"`
	URL        string      `json:"url"`
	Domain     string      `json:"domain"`
	Reason     string      `json:"reason"`
	ErrorClass ErrorClass  `json:"error_class,omitempty"`
	StatusCode int         `json:"status_code,omitempty"`
	Attempts   int         `json:"attempts"`
	Method     FetchMethod `json:"method,omitempty"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Method  FetchMethod
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// RobotsResponse is the raw result of fetching a host's robots.txt.
type RobotsResponse struct {
	StatusCode int
	Body       []byte
}

// Signals are the page-level heuristics a worker attaches to an outcome.
type Signals struct {
	Challenge bool
	ThinBody  bool
}
