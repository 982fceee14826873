package execution

import (
	"errors"
	"fmt"
	"time"

	"github.com/charleschow/futures-trading/internal/core/mapping"
	"github.com/charleschow/futures-trading/internal/core/trading"
	"github.com/charleschow/futures-trading/internal/telemetry"
)

// Stage is a step in the request pipeline. Every call starts RECEIVED and
// ends MAPPED or FAILED.
type Stage string

const (
	StageReceived  Stage = "RECEIVED"
	StageValidated Stage = "VALIDATED"
	StageSigned    Stage = "SIGNED"
	StageSent      Stage = "SENT"
	StageMapped    Stage = "MAPPED"
	StageFailed    Stage = "FAILED"
)

// StageError wraps a pipeline failure with the last stage reached. It
// unwraps to the underlying *trading.ValidationError,
// *binance_http.TransportError, *mapping.ExchangeError or
// *mapping.MappingError.
type StageError struct {
	Op    string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type call struct {
	op    string
	stage Stage
	start time.Time
}

func (s *Service) begin(op string) *call {
	telemetry.Debugf("execution: %s %s", op, StageReceived)
	return &call{op: op, stage: StageReceived, start: time.Now()}
}

func (c *call) advance(next Stage) {
	c.stage = next
	telemetry.Debugf("execution: %s %s", c.op, next)
}

func (c *call) elapsed() time.Duration {
	return time.Since(c.start).Round(time.Millisecond)
}

func (c *call) fail(err error) error {
	var (
		verr *trading.ValidationError
		xerr *mapping.ExchangeError
	)
	switch {
	case errors.As(err, &verr):
		telemetry.Metrics.ValidationFailures.Inc()
		telemetry.Infof("execution: %s %s at %s: %v", c.op, StageFailed, c.stage, err)
	case errors.As(err, &xerr):
		telemetry.Metrics.ExchangeErrors.Inc()
		telemetry.Warnf("execution: %s %s at %s after %s: %v", c.op, StageFailed, c.stage, c.elapsed(), err)
	default:
		telemetry.Errorf("execution: %s %s at %s after %s: %v", c.op, StageFailed, c.stage, c.elapsed(), err)
	}
	return &StageError{Op: c.op, Stage: c.stage, Err: err}
}
