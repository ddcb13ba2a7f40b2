package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a production JSON logger tagged with the service name.
func New(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}
	return config.Build()
}

// NewDevelopment creates a human-readable console logger.
func NewDevelopment(serviceName string) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}
	return config.Build()
}

// ForEnvironment picks the development logger for "development" and the
// production logger otherwise.
func ForEnvironment(serviceName, environment string) (*zap.Logger, error) {
	if environment == "development" {
		return NewDevelopment(serviceName)
	}
	return New(serviceName)
}
