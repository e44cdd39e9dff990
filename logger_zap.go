package realtime

import (
	"go.uber.org/zap"
)

// zapLogger adapts a zap.SugaredLogger to the logger interface used across the package.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l so it can be handed to WithLogger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return noopLogger{}
	}
	return &zapLogger{sugar: l.Sugar()}
}

func (z *zapLogger) WithField(key string, value any) logger {
	return &zapLogger{sugar: z.sugar.With(key, value)}
}

func (z *zapLogger) Debug(args ...any)                 { z.sugar.Debug(args...) }
func (z *zapLogger) Debugf(format string, args ...any) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Debugln(args ...any)               { z.sugar.Debugln(args...) }
func (z *zapLogger) Info(args ...any)                  { z.sugar.Info(args...) }
func (z *zapLogger) Infof(format string, args ...any)  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Infoln(args ...any)                { z.sugar.Infoln(args...) }
func (z *zapLogger) Warn(args ...any)                  { z.sugar.Warn(args...) }
func (z *zapLogger) Warnf(format string, args ...any)  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Warnln(args ...any)                { z.sugar.Warnln(args...) }
func (z *zapLogger) Error(args ...any)                 { z.sugar.Error(args...) }
func (z *zapLogger) Errorf(format string, args ...any) { z.sugar.Errorf(format, args...) }
func (z *zapLogger) Errorln(args ...any)               { z.sugar.Errorln(args...) }

// noopLogger discards everything.
type noopLogger struct{}

func (n noopLogger) WithField(string, any) logger { return n }
func (noopLogger) Debug(...any)                   {}
func (noopLogger) Debugf(string, ...any)          {}
func (noopLogger) Debugln(...any)                 {}
func (noopLogger) Info(...any)                    {}
func (noopLogger) Infof(string, ...any)           {}
func (noopLogger) Infoln(...any)                  {}
func (noopLogger) Warn(...any)                    {}
func (noopLogger) Warnf(string, ...any)           {}
func (noopLogger) Warnln(...any)                  {}
func (noopLogger) Error(...any)                   {}
func (noopLogger) Errorf(string, ...any)          {}
func (noopLogger) Errorln(...any)                 {}
