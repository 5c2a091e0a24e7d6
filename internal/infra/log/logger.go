package log

// Two loggers:
//   - Logger writes everything (DEBUG and up) to logs/app.log
//   - consoleLogger prints the per-channel status lines, warnings and errors
// Until Init is called both point to a console-only logger so packages and tests
// can log without touching the filesystem.

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var Logger *zap.Logger
var consoleLogger *zap.Logger

var mu sync.Mutex

// Options controls where the file log lives and how verbose it is.
type Options struct {
	Dir   string // directory for app.log, "logs" by default
	Level string // debug | info | warn | error
}

func init() {
	console, err := newConsoleLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize console logger: %v\n", err)
		console = zap.NewNop()
	}
	consoleLogger = console
	Logger = console
}

// Init switches the package loggers to file + console output.
// On failure the console-only loggers stay in place.
func Init(opts Options) error {
	if opts.Dir == "" {
		opts.Dir = "logs"
	}
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	fileCore := zapcore.NewCore(
		&fileEncoder{MapObjectEncoder: zapcore.NewMapObjectEncoder()},
		getLogFileWriter(filepath.Join(opts.Dir, "app.log")),
		level,
	)

	mu.Lock()
	defer mu.Unlock()
	Logger = zap.New(fileCore)
	return nil
}

// Sync flushes both loggers. Errors from syncing stdout are ignored.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = Logger.Sync()
	_ = consoleLogger.Sync()
}

// ParseLevel maps a config string to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func newConsoleLogger() (*zap.Logger, error) {
	consoleConfig := zap.NewDevelopmentConfig()
	consoleConfig.EncoderConfig.EncodeLevel = customLevelEncoder
	consoleConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleConfig.EncoderConfig.EncodeCaller = nil
	consoleConfig.Development = false
	consoleConfig.DisableStacktrace = true
	consoleConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	return consoleConfig.Build()
}

// GenerateRequestID returns a short random id used to correlate request/response lines.
func GenerateRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ChannelLogger returns the file logger tagged with a channel slug.
func ChannelLogger(channel string) *zap.Logger {
	return Logger.With(zap.String("channel", channel))
}

// LogRequest records an outgoing API request (file only).
func LogRequest(requestID, method, endpoint string, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	}, fields...)
	Logger.Debug("HTTP request", allFields...)
}

// LogResponse records an API response. Non-2xx responses are also printed to the console.
func LogResponse(requestID string, statusCode int, durationMs int64, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("request_id", requestID),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	}, fields...)

	if statusCode >= 200 && statusCode < 300 {
		Logger.Debug("HTTP response", allFields...)
		return
	}

	Logger.Warn("HTTP response", allFields...)
	if endpoint := fieldString(fields, "endpoint"); endpoint != "" {
		consoleLogger.Warn(fmt.Sprintf("HTTP request failed [%d] %s", statusCode, endpoint))
	} else {
		consoleLogger.Warn(fmt.Sprintf("HTTP request failed [%d]", statusCode))
	}
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

func customLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(colorCyan + "DEBUG" + colorReset)
	case zapcore.InfoLevel:
		enc.AppendString(colorGreen + "INFO" + colorReset)
	case zapcore.WarnLevel:
		enc.AppendString(colorYellow + "WARN" + colorReset)
	case zapcore.ErrorLevel:
		enc.AppendString(colorRed + "ERROR" + colorReset)
	case zapcore.FatalLevel, zapcore.PanicLevel, zapcore.DPanicLevel:
		enc.AppendString(colorRed + level.CapitalString() + colorReset)
	default:
		enc.AppendString(colorWhite + level.String() + colorReset)
	}
}

func LogDebug(message string, fields ...zap.Field) {
	Logger.Debug(message, fields...)
}

// LogInfo writes to the file log only.
func LogInfo(message string, fields ...zap.Field) {
	Logger.Info(message, fields...)
}

// LogStatus is a steady-state status line: file log plus console.
func LogStatus(message string, fields ...zap.Field) {
	if Logger != consoleLogger {
		Logger.Info(message, fields...)
	}
	consoleLogger.Info(message)
}

func LogSuccess(message string, fields ...zap.Field) {
	if Logger != consoleLogger {
		Logger.Info(message, fields...)
	}
	if durationMs := extractDuration(fields); durationMs > 0 {
		consoleLogger.Info(fmt.Sprintf("✓ %s (%dms)", message, durationMs))
	} else {
		consoleLogger.Info("✓ " + message)
	}
}

func LogWarn(message string, fields ...zap.Field) {
	if Logger != consoleLogger {
		Logger.Warn(message, fields...)
	}
	consoleLogger.Warn(message, consoleFields(fields)...)
}

func LogError(message string, fields ...zap.Field) {
	if Logger != consoleLogger {
		Logger.Error(message, fields...)
	}
	consoleLogger.Error("✗ "+message, consoleFields(fields)...)
}

// consoleFields keeps only the fields worth showing on a terminal.
func consoleFields(fields []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, 2)
	for _, f := range fields {
		if f.Key == "channel" || f.Type == zapcore.ErrorType {
			out = append(out, f)
		}
	}
	return out
}

func extractDuration(fields []zap.Field) int64 {
	for _, field := range fields {
		if field.Key == "duration_ms" && field.Type == zapcore.Int64Type {
			return field.Integer
		}
	}
	return 0
}

func fieldString(fields []zap.Field, key string) string {
	for _, field := range fields {
		if field.Key == key {
			return field.String
		}
	}
	return ""
}

const (
	// MaxLogFileSize caps app.log; the file is truncated once it grows past it.
	MaxLogFileSize = 50 * 1024 * 1024
)

type rotatingLogWriter struct {
	file *os.File
	path string
	mu   sync.Mutex
}

func (w *rotatingLogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err == nil && info.Size() > MaxLogFileSize {
		w.file.Close()
		w.file, err = os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to truncate log file: %w", err)
		}
	}

	return w.file.Write(p)
}

func (w *rotatingLogWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

func getLogFileWriter(path string) zapcore.WriteSyncer {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v, falling back to stderr\n", path, err)
		return zapcore.AddSync(os.Stderr)
	}
	return &rotatingLogWriter{file: file, path: path}
}

var bufferPool = buffer.NewPool()

// fileEncoder renders "2006-01-02 15:04:05     LEVEL message\t{json fields}".
// Fields added with Logger.With live in the embedded map and are merged into every entry.
type fileEncoder struct {
	*zapcore.MapObjectEncoder
}

func (e *fileEncoder) Clone() zapcore.Encoder {
	clone := zapcore.NewMapObjectEncoder()
	for k, v := range e.Fields {
		clone.Fields[k] = v
	}
	return &fileEncoder{MapObjectEncoder: clone}
}

func (e *fileEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := bufferPool.Get()

	buf.AppendString(entry.Time.Format("2006-01-02 15:04:05"))
	buf.AppendString("     ")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	if len(fields) > 0 || len(e.Fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for k, v := range e.Fields {
			enc.Fields[k] = v
		}
		for _, field := range fields {
			field.AddTo(enc)
		}
		if jsonData, err := json.Marshal(enc.Fields); err == nil {
			buf.AppendString("\t")
			buf.Write(jsonData)
		}
	}

	buf.AppendString("\n")
	return buf, nil
}
