package core

import (
	"context"
	"time"

	"github.com/CodeMonkeyCybersecurity/dhascan/pkg/types"
)

// Probe outcomes recorded by Telemetry.RecordProbe.
const (
	ProbeOutcomeOK        = "ok"
	ProbeOutcomeFailed    = "failed"
	ProbeOutcomeSkipped   = "skipped"
	ProbeOutcomeCancelled = "cancelled"
)

type Telemetry interface {
	RecordScan(ctx context.Context, duration time.Duration, success bool)
	RecordProbe(ctx context.Context, category types.Category, outcome string)
	RecordFinding(ctx context.Context, severity types.Severity)
	Close() error
}
