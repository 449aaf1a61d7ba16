package stereo

import (
	"github.com/edaniels/golog"
	"go.uber.org/zap"
)

// Pipeline stages reported to a ProgressCallback.
const (
	StageDetect    = "detect"
	StageMatch     = "match"
	StageFilter    = "filter"
	StageWrite     = "write"
	StageAlignment = "alignment"
)

// ProgressCallback is told how far a pair has progressed at coarse checkpoints. Fraction is in
// [0, 1] over the whole operation. Reports are synchronous and cannot cancel the work.
type ProgressCallback interface {
	Report(stage string, fraction float64)
}

// NopProgress ignores progress.
type NopProgress struct{}

// Report does nothing.
func (NopProgress) Report(string, float64) {}

// LoggerProgress writes progress to a logger at debug level.
type LoggerProgress struct {
	Logger golog.Logger
}

// Report logs the checkpoint.
func (lp LoggerProgress) Report(stage string, fraction float64) {
	lp.Logger.Desugar().Debug("progress", zap.String("stage", stage), zap.Float64("fraction", fraction))
}

// subProgress maps the progress of a nested operation into [from, to] of its parent.
type subProgress struct {
	parent   ProgressCallback
	from, to float64
}

func (sp subProgress) Report(stage string, fraction float64) {
	sp.parent.Report(stage, sp.from+(sp.to-sp.from)*fraction)
}
