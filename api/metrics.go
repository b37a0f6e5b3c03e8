package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const calendarRoute = "/api/calendar"

// calendarRequestMetrics collects per-request timings for the calendar view
// and reports them once, as a structured log entry and an otel span.
type calendarRequestMetrics struct {
	logger *log.Logger
	span   trace.Span
	start  time.Time

	authDuration    time.Duration
	buildDuration   time.Duration
	encodeDuration  time.Duration
	fallbackApplied bool
	daysEmitted     int
	tasksBucketed   int
	errorStage      string
}

func newCalendarRequestMetrics(ctx context.Context, logger *log.Logger) (*calendarRequestMetrics, context.Context) {
	m := &calendarRequestMetrics{logger: logger, start: time.Now()}
	spanCtx, span := otel.Tracer("todo-api/api").Start(ctx, "calendar.request")
	m.span = span
	return m, spanCtx
}

func (m *calendarRequestMetrics) ObserveAuth(d time.Duration) {
	if d > 0 {
		m.authDuration = d
	}
}

func (m *calendarRequestMetrics) ObserveBuild(d time.Duration) {
	if d > 0 {
		m.buildDuration = d
	}
}

func (m *calendarRequestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encodeDuration = d
	}
}

func (m *calendarRequestMetrics) SetFallbackApplied(applied bool) {
	m.fallbackApplied = applied
}

func (m *calendarRequestMetrics) SetDaysEmitted(count int) {
	if count < 0 {
		count = 0
	}
	m.daysEmitted = count
}

func (m *calendarRequestMetrics) SetTasksBucketed(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksBucketed = count
}

func (m *calendarRequestMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

// Log finishes the span and emits one metrics entry. Safe on a nil receiver.
func (m *calendarRequestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}

	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		attrs := []attribute.KeyValue{
			attribute.String("http.route", calendarRoute),
			attribute.Int("http.status_code", status),
			attribute.Bool("calendar.fallback_applied", m.fallbackApplied),
			attribute.Int("calendar.days_emitted", m.daysEmitted),
			attribute.Int("calendar.tasks_bucketed", m.tasksBucketed),
			attribute.Int("severity_number", severityNumber),
		}
		if m.errorStage != "" {
			attrs = append(attrs, attribute.String("error.stage", m.errorStage))
		}
		m.span.SetAttributes(attrs...)
		if err != nil || status >= 500 {
			m.span.SetStatus(codes.Error, severityText)
			if err != nil {
				m.span.RecordError(err)
			}
		} else {
			m.span.SetStatus(codes.Ok, "")
		}
		m.span.End()
	}

	if m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":            calendarRoute,
		"status":           status,
		"total_ms":         durationToMillis(time.Since(m.start)),
		"fallback_applied": m.fallbackApplied,
		"days_emitted":     m.daysEmitted,
		"tasks_bucketed":   m.tasksBucketed,
		"severity":         severityText,
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.buildDuration > 0 {
		fields["build_ms"] = durationToMillis(m.buildDuration)
	}
	if m.encodeDuration > 0 {
		fields["encode_ms"] = durationToMillis(m.encodeDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}

	m.logger.WithFields(fields).Info("calendar.request.metrics")
}

// severityForStatus maps an HTTP outcome to otel log severity text/number.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= 500:
		return "error", 17
	case status >= 400:
		return "warning", 13
	default:
		return "info", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
