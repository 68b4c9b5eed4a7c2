package output

import (
	"context"

	"go.uber.org/zap"
)

// LogOutput writes notifications to the structured log.
type LogOutput struct {
	logger *zap.Logger
}

// NewLogOutput creates a log output. A nil logger discards messages.
func NewLogOutput(logger *zap.Logger) *LogOutput {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogOutput{logger: logger.Named("notify")}
}

// Name returns "log".
func (l *LogOutput) Name() string {
	return "log"
}

// Send logs n at info level, with the run details as fields.
func (l *LogOutput) Send(ctx context.Context, n Notice) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if n.RunID == "" {
		l.logger.Info(n.Text)
		return nil
	}
	l.logger.Info(n.Text,
		zap.String("run", n.RunID),
		zap.Int64("total", n.Total),
		zap.Duration("duration", n.Duration))
	return nil
}

// Close flushes the logger.
func (l *LogOutput) Close() error {
	_ = l.logger.Sync()
	return nil
}
