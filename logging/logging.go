// Package logging builds the process zap logger and adapts it for whatsmeow.
package logging

import (
	"fmt"
	"os"
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a JSON zap logger at the given level. When file is set, output
// goes to a rotating file instead of stderr.
func New(level, file string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if file != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   file,
			MaxSize:    64,
			MaxBackups: 5,
			MaxAge:     14,
			Compress:   true,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, lvl)
	return zap.New(core, zap.AddCaller()), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Whatsmeow wraps a zap logger so whatsmeow clients log through it.
func Whatsmeow(l *zap.Logger, module string) waLog.Logger {
	return &waLogger{sugar: OrNop(l).Named(module).Sugar(), module: module}
}

type waLogger struct {
	sugar  *zap.SugaredLogger
	module string
}

func (w *waLogger) Warnf(msg string, args ...interface{})  { w.sugar.Warnf(msg, args...) }
func (w *waLogger) Errorf(msg string, args ...interface{}) { w.sugar.Errorf(msg, args...) }
func (w *waLogger) Infof(msg string, args ...interface{})  { w.sugar.Infof(msg, args...) }
func (w *waLogger) Debugf(msg string, args ...interface{}) { w.sugar.Debugf(msg, args...) }

func (w *waLogger) Sub(module string) waLog.Logger {
	return &waLogger{sugar: w.sugar.Named(module), module: w.module + "/" + module}
}
