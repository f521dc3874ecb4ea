package model

import (
	"strconv"
	"time"
)

// RequestState is the lifecycle position of a bulk download request
type RequestState string

const (
	StateSubmitted RequestState = "submitted"
	StatePolling   RequestState = "polling"
	StateReady     RequestState = "ready"
	StateExtracted RequestState = "extracted"
	StateFailed    RequestState = "failed"
	StateTimedOut  RequestState = "timed_out"
)

// Terminal reports whether no further transition is possible
func (s RequestState) Terminal() bool {
	switch s {
	case StateExtracted, StateFailed, StateTimedOut:
		return true
	default:
		return false
	}
}

// StateFromCode maps the authority's integer request state.
// 1 accepted and 2 in progress keep polling, 3 is finished,
// 4 error, 5 rejected and 6 expired are all failures.
func StateFromCode(code int) RequestState {
	switch {
	case code <= 2:
		return StatePolling
	case code == 3:
		return StateReady
	default:
		return StateFailed
	}
}

// RequestKind selects what the authority packs
type RequestKind string

const (
	KindCFDI     RequestKind = "CFDI"
	KindMetadata RequestKind = "Metadata"
)

// DownloadQuery is what a download request is submitted with
type DownloadQuery struct {
	RFC   string
	Range DateRange
	Kind  RequestKind

	// Issued requests documents the taxpayer emitted instead of received ones
	Issued bool
}

// RequestStatus is one verification answer from the authority
type RequestStatus struct {
	StateCode   int
	StatusCode  string // request-level code, e.g. "5000"
	RequestCode string // state detail code, e.g. "5004"
	Message     string
	DocumentCnt int
	PackageIDs  []string
}

// State maps the integer state code
func (s *RequestStatus) State() RequestState {
	return StateFromCode(s.StateCode)
}

// Transition is one recorded state change
type Transition struct {
	From RequestState
	To   RequestState
	At   time.Time
	Note string
}

// BulkRequest tracks one authority request from submission to extraction.
// History is append-only.
type BulkRequest struct {
	ID         string
	RFC        string
	Range      DateRange
	State      RequestState
	PackageIDs []string
	Attempts   int
	LastStatus *RequestStatus
	History    []Transition
}

// NewBulkRequest records a freshly submitted request
func NewBulkRequest(id string, q DownloadQuery, now time.Time) *BulkRequest {
	return &BulkRequest{
		ID:      id,
		RFC:     q.RFC,
		Range:   q.Range,
		State:   StateSubmitted,
		History: []Transition{{To: StateSubmitted, At: now}},
	}
}

// Advance moves the request to a new state and records the transition.
// Terminal requests are never moved again.
func (r *BulkRequest) Advance(to RequestState, now time.Time, note string) bool {
	if r.State.Terminal() {
		return false
	}
	if r.State == to && to == StatePolling {
		return true
	}
	r.History = append(r.History, Transition{From: r.State, To: to, At: now, Note: note})
	r.State = to
	return true
}

// FailureNote describes a failed status for messages and logs
func (s *RequestStatus) FailureNote() string {
	note := "request state " + strconv.Itoa(s.StateCode)
	if s.RequestCode != "" {
		note += " (code " + s.RequestCode + ")"
	}
	if s.Message != "" {
		note += ": " + s.Message
	}
	return note
}
