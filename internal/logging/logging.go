// Package logging holds the process-wide zap logger and the HTTP request
// logging middleware.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	global atomic.Pointer[zap.Logger]
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Config selects level and encoding. Logs go to stderr unless Output names
// another sink, so command output on stdout stays machine-readable.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or console
	Output string
}

// Init replaces the global logger.
func Init(cfg Config) error {
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	var zc zap.Config
	switch cfg.Format {
	case "console":
		zc = zap.NewDevelopmentConfig()
	case "json", "":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return fmt.Errorf("unknown log format %q (want json or console)", cfg.Format)
	}
	level.SetLevel(lvl)
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	if cfg.Output != "" {
		zc.OutputPaths = []string{cfg.Output}
	}

	l, err := zc.Build(zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	global.Store(l)
	return nil
}

// Replace swaps the global logger, e.g. for a no-op or observer in tests.
func Replace(l *zap.Logger) {
	global.Store(l)
}

// Sync flushes buffered entries.
func Sync() error {
	if l := global.Load(); l != nil {
		return l.Sync()
	}
	return nil
}

// L returns the global logger, creating a production one on first use.
func L() *zap.Logger {
	if l := global.Load(); l != nil {
		return l
	}
	l, _ := zap.NewProduction(zap.AddCallerSkip(1))
	global.CompareAndSwap(nil, l)
	return global.Load()
}

// Named returns a component logger. It drops the caller skip the
// package-level helpers need.
func Named(name string) *zap.Logger {
	return L().WithOptions(zap.AddCallerSkip(-1)).Named(name)
}

// WithContext returns the request-scoped logger, or the global one.
func WithContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return L()
}

// RequestID returns the id Middleware attached to ctx.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type requestIDKey struct{}

// Debug logs at debug level on the global logger.
func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }

// Info logs at info level on the global logger.
func Info(msg string, fields ...zap.Field) { L().Info(msg, fields...) }

// Warn logs at warn level on the global logger.
func Warn(msg string, fields ...zap.Field) { L().Warn(msg, fields...) }

// Error logs at error level on the global logger.
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }

var (
	idPrefix  = strconv.FormatInt(time.Now().Unix(), 36)
	idCounter atomic.Uint64
)

func newRequestID() string {
	return idPrefix + "-" + strconv.FormatUint(idCounter.Add(1), 36)
}

type recorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *recorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *recorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Flush keeps SSE streaming working through the wrapper.
func (r *recorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *recorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Middleware tags each request with an X-Request-ID (the client's, if sent)
// and logs one line when it completes. Server errors log at error level and
// client errors at warn.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = newRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		l := WithContext(r.Context()).With(zap.String("request_id", id))
		ctx := context.WithValue(r.Context(), ctxKey{}, l)
		ctx = context.WithValue(ctx, requestIDKey{}, id)

		rec := &recorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.bytes),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case rec.status >= 500:
			l.Error("request", fields...)
		case rec.status >= 400:
			l.Warn("request", fields...)
		default:
			l.Info("request", fields...)
		}
	})
}
