package notify

import (
	"time"

	"bullionwatch/internal/rates"
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypeFailure  = "failure"
)

// MetalView is the display form of one metal.
type MetalView struct {
	Rate     string `json:"rate" msgpack:"rate"`
	Baseline string `json:"baseline,omitempty" msgpack:"baseline,omitempty"`
	Delta    string `json:"delta" msgpack:"delta"`
}

// Message is the wire form pushed to outside consumers.
type Message struct {
	Type     string     `json:"type" msgpack:"type"`
	Status   string     `json:"status,omitempty" msgpack:"status,omitempty"`
	ID       string     `json:"id,omitempty" msgpack:"id,omitempty"`
	AsOf     *time.Time `json:"as_of,omitempty" msgpack:"as_of,omitempty"`
	Gold     *MetalView `json:"gold,omitempty" msgpack:"gold,omitempty"`
	Silver   *MetalView `json:"silver,omitempty" msgpack:"silver,omitempty"`
	Estimate bool       `json:"estimate" msgpack:"estimate"`
	Error    string     `json:"error,omitempty" msgpack:"error,omitempty"`
}

// SnapshotMessage converts a snapshot for the wire. Missing metals are nil.
func SnapshotMessage(s rates.Snapshot) Message {
	asOf := s.AsOf.UTC()
	return Message{
		Type:     TypeSnapshot,
		ID:       s.ID.String(),
		AsOf:     &asOf,
		Gold:     metalView(s, rates.Gold),
		Silver:   metalView(s, rates.Silver),
		Estimate: s.SourceIsEstimate,
	}
}

// FailureMessage describes a refresh that produced no snapshot.
func FailureMessage(err error) Message {
	msg := Message{Type: TypeFailure, Error: "unavailable"}
	if err != nil {
		msg.Error = err.Error()
	}
	return msg
}

func metalView(s rates.Snapshot, m rates.Metal) *MetalView {
	rate := s.Rate(m)
	if rate == "" {
		return nil
	}
	return &MetalView{
		Rate:     rate,
		Baseline: s.BaselineFor(m),
		Delta:    s.DeltaFor(m).String(),
	}
}
