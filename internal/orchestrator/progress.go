package orchestrator

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microlauncher/internal/infrastructure/monitoring"
)

// progressReporter records every completed barrier round and logs at most
// one progress line per interval, plus the final one.
type progressReporter struct {
	total   int
	start   time.Time
	limiter *rate.Limiter
	metrics *monitoring.Metrics
	logger  *logging.Logger
	now     func() time.Time
}

func newProgressReporter(total int, interval time.Duration, metrics *monitoring.Metrics, logger *logging.Logger) *progressReporter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &progressReporter{
		total:   total,
		start:   time.Now(),
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Round is the barrier progress callback.
func (p *progressReporter) Round(done int) {
	p.metrics.RecordRound(done)
	if done != p.total && !p.limiter.Allow() {
		return
	}
	p.logger.Info(p.line(done), zap.Int("rounds_done", done), zap.Int("rounds_total", p.total))
}

// line formats progress as "[done/total elapsed]".
func (p *progressReporter) line(done int) string {
	return fmt.Sprintf("[%d/%d %s]", done, p.total, p.now().Sub(p.start).Round(time.Second))
}
