package audit

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Collector writes an append-only audit trail of every command handled
// by the engine, applied or denied. Denied commands are recorded too:
// rejection means "not applied", not "not recorded".
type Collector interface {
	RecordApplied(workflowId string, stepId string, actor string, action string)
	RecordDenied(workflowId string, stepId string, actor string, action string, reason string)
}

type logFileCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileCollector(fileName string) (Collector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	writer := zapcore.AddSync(logFile)
	core := zapcore.NewTee(zapcore.NewCore(fileEncoder, writer, zapcore.InfoLevel))
	return &logFileCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *logFileCollector) RecordApplied(workflowId string, stepId string, actor string, action string) {
	lc.logger.Info("applied", zap.String("workflow", workflowId), zap.String("step", stepId), zap.String("actor", actor), zap.String("action", action))
}

func (lc *logFileCollector) RecordDenied(workflowId string, stepId string, actor string, action string, reason string) {
	lc.logger.Info("denied", zap.String("workflow", workflowId), zap.String("step", stepId), zap.String("actor", actor), zap.String("action", action), zap.String("reason", reason))
}

type noopCollector struct{}

func NewNoopCollector() Collector {
	return noopCollector{}
}

func (noopCollector) RecordApplied(string, string, string, string) {}

func (noopCollector) RecordDenied(string, string, string, string, string) {}
