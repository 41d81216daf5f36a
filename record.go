// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups

import (
	"io"
	"sync/atomic"
	"time"
)

// RequestID identifies a submitted request.
//
// IDs are assigned in strictly increasing order by each [*Engine] and
// are never zero.
type RequestID uint64

// Callback receives the outcome of a request.
//
// Exactly one of resp and err is non-nil for IPP requests; file transfers
// always receive a nil resp. The data argument is the value passed at
// submission time.
type Callback func(id RequestID, path string, resp *Response, err error, data any)

// DestroyFunc releases the data passed at submission time. It runs
// exactly once per request, after the callback, even if the request was
// canceled.
type DestroyFunc func(data any)

// DeliveryMode selects how the outcome of a request is delivered.
type DeliveryMode int

const (
	// DeliverDeferred posts the completion to the [MainContext], so that
	// callbacks never run concurrently with each other.
	DeliverDeferred DeliveryMode = iota

	// DeliverDirect runs the completion in the worker goroutine as soon
	// as the request finishes.
	DeliverDirect
)

// String implements [fmt.Stringer].
func (m DeliveryMode) String() string {
	if m == DeliverDirect {
		return "direct"
	}
	return "deferred"
}

// Request describes a unit of work for [*Engine.Enqueue].
//
// A request carries either an encoded IPP Payload or a Sink for a file
// transfer. When both are set the Payload wins; when neither is set the
// request completes with [ErrMalformedRequest].
type Request struct {
	// Server is the server key. Empty means [Config.Server].
	Server string

	// Path is the HTTP resource. Empty means "/".
	Path string

	// Payload is the encoded IPP request.
	Payload []byte

	// Sink receives the body of a file transfer.
	Sink io.Writer

	// Callback may be nil.
	Callback Callback

	// Data is passed to Callback and Destroy.
	Data any

	// Destroy may be nil.
	Destroy DestroyFunc

	// Mode selects the delivery strategy.
	Mode DeliveryMode
}

// recordState tracks the lifecycle of a record.
type recordState int32

const (
	recordQueued recordState = iota
	recordExecuting
	recordCompleted
	recordDelivered
	recordReclaimed
)

// String implements [fmt.Stringer].
func (s recordState) String() string {
	switch s {
	case recordQueued:
		return "queued"
	case recordExecuting:
		return "executing"
	case recordCompleted:
		return "completed"
	case recordDelivered:
		return "delivered"
	case recordReclaimed:
		return "reclaimed"
	default:
		return "unknown"
	}
}

// record is the engine-internal state of a [Request].
//
// Fields other than canceled and state are written by the submitter
// before the record is queued, then by the single worker executing it,
// and read by the deliverer after the worker hands it over.
type record struct {
	Request

	// id is assigned by the registry.
	id RequestID

	// conn is the cached connection for Server.
	conn *Connection

	// canceled suppresses the callback.
	canceled atomic.Bool

	// spanID correlates log events.
	spanID string

	// submitted is when the record was created.
	submitted time.Time

	// resp and err are the outcome.
	resp *Response
	err  error

	// state is the current lifecycle state.
	state atomic.Int32
}

func newRecord(req Request, spanID string, now time.Time) *record {
	rec := &record{
		Request:   req,
		spanID:    spanID,
		submitted: now,
	}
	rec.setState(recordQueued)
	return rec
}

func (r *record) setState(state recordState) {
	r.state.Store(int32(state))
}

func (r *record) getState() recordState {
	return recordState(r.state.Load())
}

// kind returns "ipp", "file" or "malformed" for logs and metrics.
func (r *record) kind() string {
	switch {
	case r.Payload != nil:
		return "ipp"
	case r.Sink != nil:
		return "file"
	default:
		return "malformed"
	}
}

// outcome returns "canceled", "error" or "ok" for metrics.
func (r *record) outcome() string {
	switch {
	case r.canceled.Load():
		return "canceled"
	case r.err != nil:
		return "error"
	default:
		return "ok"
	}
}

// complete stores the outcome of the record.
func (r *record) complete(resp *Response, err error) {
	r.resp, r.err = resp, err
	r.setState(recordCompleted)
}
