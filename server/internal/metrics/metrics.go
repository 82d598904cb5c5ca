// Package metrics renders server counters in the Prometheus text format.
//
// There is no registry: every scrape reads the live counters from the table,
// the pipeline actors, the inbox and the fanout and encodes them as
// client_model MetricFamily values.
package metrics

import (
	"log/slog"
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/obsidianstack/rntiview/server/internal/broadcast"
	"github.com/obsidianstack/rntiview/server/internal/pipeline"
	"github.com/obsidianstack/rntiview/server/internal/receiver"
	"github.com/obsidianstack/rntiview/server/internal/store"
)

const namespace = "rntiview_"

// Sources are the components whose counters are exported. Nil fields are
// skipped.
type Sources struct {
	Table   *store.Table
	Fanout  *broadcast.Fanout
	Inbox   *receiver.Inbox
	Sweeper *pipeline.Sweeper
	Ingest  *pipeline.Ingest
}

// Gather returns the current metric families sorted by name.
func Gather(src Sources) []*dto.MetricFamily {
	var out []*dto.MetricFamily
	if src.Table != nil {
		st := src.Table.Stats()
		out = append(out,
			gauge("active_rntis", "RNTIs currently in the active table.", float64(st.ActiveCount)),
			counter("rntis_seen_total", "RNTIs inserted as new since start.", float64(st.TotalSeen)),
			counter("rntis_expired_total", "RNTIs moved to the expired ring since start.", float64(st.ExpiredTotal)),
			gauge("ttl_seconds", "Configured inactivity timeout.", src.Table.TTL().Seconds()),
		)
	}
	if src.Fanout != nil {
		st := src.Fanout.Stats()
		out = append(out,
			gauge("observers", "Connected observers.", float64(st.Observers)),
			gauge("broadcast_queue_depth", "Deltas waiting for the next tick.", float64(st.QueueDepth)),
			counter("broadcast_batches_total", "Non-empty batches encoded.", float64(st.Batches)),
			counter("broadcast_items_total", "Deltas sent in batches.", float64(st.Items)),
			counter("broadcast_deliveries_total", "Successful per-observer batch deliveries.", float64(st.Deliveries)),
			counter("broadcast_pruned_total", "Observers removed after a failed delivery.", float64(st.Pruned)),
		)
	}
	if src.Inbox != nil {
		st := src.Inbox.Stats()
		out = append(out,
			gauge("inbox_depth", "Frames buffered ahead of the ingest loop.", float64(st.Depth)),
			counter("inbox_received_total", "Frames accepted into the inbox.", float64(st.Received)),
			counter("inbox_dropped_total", "Frames dropped because the inbox was full.", float64(st.Dropped)),
			counter("inbox_rejected_total", "Frames that failed to decode.", float64(st.Rejected)),
		)
	}
	if src.Ingest != nil {
		out = append(out,
			counter("ingest_applied_total", "Deltas applied to the table.", float64(src.Ingest.Applied())),
			counter("ingest_skipped_total", "Inbox frames skipped by the ingest loop.", float64(src.Ingest.Skipped())),
		)
	}
	if src.Sweeper != nil {
		out = append(out,
			counter("sweeper_expired_total", "RNTIs expired by the sweeper.", float64(src.Sweeper.Expired())),
			gauge("sweeper_interval_seconds", "Time between sweeps.", src.Sweeper.Interval().Seconds()),
		)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Handler serves Gather in the text exposition format.
func Handler(src Sources) http.Handler {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(format))
		enc := expfmt.NewEncoder(w, format)
		for _, mf := range Gather(src) {
			if err := enc.Encode(mf); err != nil {
				slog.Warn("metrics: encode failed", "metric", mf.GetName(), "err", err)
				return
			}
		}
	})
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(namespace + name),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: proto.Float64(v)}}},
	}
}
