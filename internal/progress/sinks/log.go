package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/tablescan/internal/progress"
)

// LogSink writes one log line per event. Corrupt units log at Warn,
// abandoned units and failed runs at Error, throughput samples at Debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		lvl, msg := logLevel(evt)
		ce := s.logger.Check(lvl, msg)
		if ce == nil {
			continue
		}
		ce.Write(eventFields(evt)...)
	}
	return nil
}

func logLevel(evt progress.Event) (zapcore.Level, string) {
	switch evt.Stage {
	case progress.StageThroughput:
		return zapcore.DebugLevel, "scan throughput"
	case progress.StageUnitCorrupt:
		return zapcore.WarnLevel, "unit corrupt"
	case progress.StageUnitAbandoned:
		return zapcore.ErrorLevel, "unit abandoned"
	case progress.StageUnitDone:
		return zapcore.DebugLevel, "unit done"
	case progress.StageRunDone:
		if evt.Note != "" {
			return zapcore.ErrorLevel, "run failed"
		}
		return zapcore.InfoLevel, "run done"
	default:
		return zapcore.InfoLevel, "run started"
	}
}

func eventFields(evt progress.Event) []zap.Field {
	fields := []zap.Field{
		zap.Stringer("run_id", evt.RunUUID()),
		zap.String("stage", string(evt.Stage)),
		zap.String("job", evt.Job),
		zap.String("source", evt.Source),
		zap.Int64("processed", evt.Counters.Processed),
		zap.Int64("failed", evt.Counters.Failed),
		zap.Int64("corrupt", evt.Counters.Corrupt),
		zap.Int64("abandoned", evt.Counters.Abandoned),
	}
	if evt.Unit != "" {
		fields = append(fields, zap.String("unit", evt.Unit), zap.Int64("records", evt.Records))
	}
	if evt.Rate > 0 {
		fields = append(fields, zap.Float64("per_second", evt.Rate))
	}
	if evt.Dur > 0 {
		fields = append(fields, zap.Duration("dur", evt.Dur))
	}
	if evt.Note != "" {
		fields = append(fields, zap.String("note", evt.Note))
	}
	return fields
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error {
	return nil
}
