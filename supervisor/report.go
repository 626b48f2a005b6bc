package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sammoh94/pulsarkit/bus"
	"github.com/sammoh94/pulsarkit/errors"
	"github.com/sammoh94/pulsarkit/telemetry"
)

// ReportSubjectPrefix is the subject prefix for error reports.
const ReportSubjectPrefix = "errors."

// ReportSubject returns the subject reports from clientID are published on.
func ReportSubject(clientID string) string {
	return ReportSubjectPrefix + clientID
}

// Report is the bus message describing one consumed error.
type Report struct {
	SessionID string        `json:"session_id"`
	ClientID  string        `json:"client_id"`
	Error     *errors.Error `json:"error"`
	Timestamp time.Time     `json:"timestamp"`

	// Trace carries the W3C trace context of the consuming span, if any.
	Trace telemetry.MapCarrier `json:"trace,omitempty"`
}

// DecodeReport parses a report read from the bus.
func DecodeReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Deserialization(err)
	}
	if r.Error == nil {
		return nil, errors.Deserialization(fmt.Errorf("report has no error"))
	}
	return &r, nil
}

// Reporter publishes error reports for one client.
type Reporter struct {
	bus       bus.MessageBus
	clientID  string
	sessionID string
}

// NewReporter creates a reporter publishing on errors.<clientID>.
func NewReporter(b bus.MessageBus, clientID, sessionID string) *Reporter {
	return &Reporter{
		bus:       b,
		clientID:  clientID,
		sessionID: sessionID,
	}
}

// Report publishes err.
func (r *Reporter) Report(ctx context.Context, err *errors.Error) error {
	report := Report{
		SessionID: r.sessionID,
		ClientID:  r.clientID,
		Error:     err,
		Timestamp: time.Now(),
		Trace:     telemetry.MapCarrier{},
	}
	telemetry.InjectContext(ctx, report.Trace)

	data, merr := json.Marshal(report)
	if merr != nil {
		return fmt.Errorf("marshal report: %w", merr)
	}
	if perr := r.bus.Publish(ReportSubject(r.clientID), data); perr != nil {
		return fmt.Errorf("publish report: %w", perr)
	}
	return nil
}
