package coordinator

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName   = "board-sync/coordinator"
	moveSpanName = "board.move"
	moveLogEvent = "move.reconcile.metrics"
)

type outcome string

const (
	outcomeSaved      outcome = "saved"
	outcomeRolledBack outcome = "rolled_back"
)

// moveMetrics carries one reconciliation's span and the fields for its
// structured log line.
type moveMetrics struct {
	logger    *log.Logger
	span      trace.Span
	start     time.Time
	gestureID string
	itemID    string
	fromLane  string
	toLane    string
	order     int
	overCount int
}

func newMoveMetrics(ctx context.Context, logger *log.Logger, gestureID, itemID, fromLane, toLane string, order, overCount int) (*moveMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, moveSpanName, trace.WithAttributes(
		attribute.String("board.gesture_id", gestureID),
		attribute.String("board.item_id", itemID),
		attribute.String("board.from_lane", fromLane),
		attribute.String("board.to_lane", toLane),
		attribute.Int("board.order", order),
		attribute.Int("board.drag_events", overCount),
	))
	return &moveMetrics{
		logger:    logger,
		span:      span,
		start:     time.Now(),
		gestureID: gestureID,
		itemID:    itemID,
		fromLane:  fromLane,
		toLane:    toLane,
		order:     order,
		overCount: overCount,
	}, ctx
}

// Log closes the span and emits one structured log entry for the
// reconciliation attempt. Safe to call exactly once.
func (m *moveMetrics) Log(result outcome, err error) {
	if m == nil {
		return
	}
	elapsed := time.Since(m.start)

	if m.span != nil {
		m.span.SetAttributes(
			attribute.String("board.outcome", string(result)),
			attribute.Float64("board.reconcile_ms", durationToMillis(elapsed)),
		)
		if err != nil {
			m.span.RecordError(err)
			m.span.SetStatus(codes.Error, err.Error())
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"gesture_id":   m.gestureID,
		"item":         m.itemID,
		"from_lane":    m.fromLane,
		"to_lane":      m.toLane,
		"order":        m.order,
		"drag_events":  m.overCount,
		"outcome":      string(result),
		"reconcile_ms": durationToMillis(elapsed),
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.HasTraceID() {
			fields["trace_id"] = sc.TraceID().String()
		}
	}
	if err != nil {
		fields["error"] = err.Error()
		m.logger.WithFields(fields).Error(moveLogEvent)
		return
	}
	m.logger.WithFields(fields).Info(moveLogEvent)
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
