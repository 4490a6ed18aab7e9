package observability

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// sdkLogger routes Temporal SDK log lines into zerolog. It implements
// log.Logger and log.WithLogger so workflow and activity loggers keep the
// fields the SDK attaches to them.
type sdkLogger struct {
	zl zerolog.Logger
}

var (
	_ log.Logger     = (*sdkLogger)(nil)
	_ log.WithLogger = (*sdkLogger)(nil)
)

// NewTemporalLogger wraps logger for use as the Temporal client logger.
func NewTemporalLogger(logger zerolog.Logger) log.Logger {
	return &sdkLogger{zl: logger.With().Str("component", "temporal-sdk").Logger()}
}

func (l *sdkLogger) Debug(msg string, keyvals ...interface{}) {
	emit(l.zl.Debug(), msg, keyvals)
}

func (l *sdkLogger) Info(msg string, keyvals ...interface{}) {
	emit(l.zl.Info(), msg, keyvals)
}

// Warn is used by the SDK for retried polls and recoverable task failures.
func (l *sdkLogger) Warn(msg string, keyvals ...interface{}) {
	emit(l.zl.Warn(), msg, keyvals)
}

func (l *sdkLogger) Error(msg string, keyvals ...interface{}) {
	emit(l.zl.Error(), msg, keyvals)
}

// With returns a child logger carrying keyvals on every line.
func (l *sdkLogger) With(keyvals ...interface{}) log.Logger {
	ctx := l.zl.With()
	eachPair(keyvals, func(k string, v interface{}) {
		ctx = ctx.Interface(k, v)
	})
	return &sdkLogger{zl: ctx.Logger()}
}

func emit(ev *zerolog.Event, msg string, keyvals []interface{}) {
	if ev == nil {
		return
	}
	eachPair(keyvals, func(k string, v interface{}) {
		if err, ok := v.(error); ok {
			ev = ev.AnErr(k, err)
			return
		}
		ev = ev.Interface(k, v)
	})
	ev.Msg(msg)
}

// eachPair walks alternating key/value pairs. Non-string keys are formatted
// with %v and a trailing key without a value is logged under "extra".
func eachPair(keyvals []interface{}, fn func(string, interface{})) {
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 == len(keyvals) {
			fn("extra", keyvals[i])
			return
		}
		k, ok := keyvals[i].(string)
		if !ok {
			k = fmt.Sprint(keyvals[i])
		}
		fn(k, keyvals[i+1])
	}
}
