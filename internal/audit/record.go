package audit

import "time"

// Action names one kind of cache operation recorded in the audit trail.
type Action string

const (
	ActionSet          Action = "SET"
	ActionGet          Action = "GET"
	ActionDelete       Action = "DELETE"
	ActionExpired      Action = "EXPIRED"
	ActionEvicted      Action = "EVICTED"
	ActionClearPatient Action = "CLEAR_PATIENT"
	ActionClearAll     Action = "CLEAR_ALL"
)

// Record is one append-only audit entry. Payloads are never part of a record.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Cache     string    `json:"cache"`
	Action    Action    `json:"action"`
	Key       string    `json:"key,omitempty"`
	PatientID string    `json:"patient_id,omitempty"`
}

// Sink receives audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Record(rec Record)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(rec Record)

func (f SinkFunc) Record(rec Record) { f(rec) }

// Nop discards every record.
var Nop Sink = SinkFunc(func(Record) {})

type multiSink []Sink

func (m multiSink) Record(rec Record) {
	for _, s := range m {
		s.Record(rec)
	}
}

// Multi fans a record out to every non-nil sink, in order.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}
