package delta

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
)

// Format identifies the encoding of an inbound frame.
type Format int

const (
	FormatJSON Format = iota
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCBOR:
		return "cbor"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

var (
	// ErrMalformed is returned when the payload cannot be parsed at all.
	ErrMalformed = errors.New("delta: malformed payload")

	// ErrMissingField is returned when rnti or t_seconds is absent.
	ErrMissingField = errors.New("delta: missing required field")

	// ErrInvalidKind is returned for an event other than new|update|expire.
	ErrInvalidKind = errors.New("delta: invalid event kind")

	// ErrInvalidStatus is returned for a status other than active|inactive.
	ErrInvalidStatus = errors.New("delta: invalid status")

	// ErrNonFinite is returned when a timestamp is NaN or infinite.
	ErrNonFinite = errors.New("delta: non-finite timestamp")
)

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}.DecMode()
	if err != nil {
		panic("delta: CBOR decoder initialization failed: " + err.Error())
	}
}

// wireDelta mirrors the publisher's message. Pointers distinguish absent
// fields from zero values.
type wireDelta struct {
	Event        *string  `json:"event" cbor:"event"`
	Rnti         *int64   `json:"rnti" cbor:"rnti"`
	CellID       *int64   `json:"cell_id" cbor:"cell_id"`
	ScramblingID *int64   `json:"scrambling_id" cbor:"scrambling_id"`
	CoresetID    *int64   `json:"coreset_id" cbor:"coreset_id"`
	TSeconds     *float64 `json:"t_seconds" cbor:"t_seconds"`
	SampleIndex  *int64   `json:"sample_index" cbor:"sample_index"`
	SeenCount    *int64   `json:"seen_count" cbor:"seen_count"`
	Revivals     *int64   `json:"revivals" cbor:"revivals"`
	Status       *string  `json:"status" cbor:"status"`
	FirstSeen    *float64 `json:"first_seen" cbor:"first_seen"`
}

// Decode parses one inbound frame into a Delta. It fails closed: any
// missing or malformed required field returns an error and no Delta.
//
// Defaults: event "update", status "active", seen_count and revivals 0,
// first_seen t_seconds. last_seen is always t_seconds.
func Decode(data []byte, f Format) (Delta, error) {
	var w wireDelta
	switch f {
	case FormatJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return Delta{}, ErrMalformed
		}
		if err := json.Unmarshal(data, &w); err != nil {
			return Delta{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	case FormatCBOR:
		if len(data) == 0 {
			return Delta{}, ErrMalformed
		}
		if err := decMode.Unmarshal(data, &w); err != nil {
			return Delta{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		return Delta{}, fmt.Errorf("%w: unknown format %s", ErrMalformed, f)
	}
	return w.toDelta()
}

func (w *wireDelta) toDelta() (Delta, error) {
	if w.Rnti == nil {
		return Delta{}, fmt.Errorf("%w: rnti", ErrMissingField)
	}
	if w.TSeconds == nil {
		return Delta{}, fmt.Errorf("%w: t_seconds", ErrMissingField)
	}
	t := *w.TSeconds
	if !finite(t) {
		return Delta{}, fmt.Errorf("%w: t_seconds", ErrNonFinite)
	}

	kind := KindUpdate
	if w.Event != nil {
		kind = Kind(*w.Event)
		if !kind.Valid() {
			return Delta{}, fmt.Errorf("%w: %q", ErrInvalidKind, *w.Event)
		}
	}

	status := StatusActive
	if w.Status != nil {
		status = Status(*w.Status)
		if status != StatusActive && status != StatusInactive {
			return Delta{}, fmt.Errorf("%w: %q", ErrInvalidStatus, *w.Status)
		}
	}

	firstSeen := t
	if w.FirstSeen != nil {
		if !finite(*w.FirstSeen) {
			return Delta{}, fmt.Errorf("%w: first_seen", ErrNonFinite)
		}
		firstSeen = *w.FirstSeen
	}

	snap := Snapshot{
		ID:           *w.Rnti,
		CellID:       w.CellID,
		ScramblingID: w.ScramblingID,
		CoresetID:    w.CoresetID,
		ObservedAt:   t,
		SampleIndex:  w.SampleIndex,
		Status:       status,
		LastSeen:     t,
		FirstSeen:    firstSeen,
	}
	if w.SeenCount != nil {
		snap.SeenCount = *w.SeenCount
	}
	if w.Revivals != nil {
		snap.Revivals = *w.Revivals
	}
	return Delta{Kind: kind, Snapshot: snap}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
