package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	reAuthHeader = regexp.MustCompile(`(?i)((?:bearer|basic)\s+)([A-Za-z0-9._~+/=-]+)`)
	reToken      = regexp.MustCompile(`(?i)("token"\s*:\s*")([^"]*)(")`)
	rePassword   = regexp.MustCompile(`(?i)("password"\s*:\s*")([^"]*)(")`)
	reSessionURL = regexp.MustCompile(`(/sessions/)([^/?\s]+)`)
)

// Mask replaces credentials and session tokens in s with "***".
func Mask(s string) string {
	out := reAuthHeader.ReplaceAllString(s, "$1***")
	out = reToken.ReplaceAllString(out, "$1***$3")
	out = rePassword.ReplaceAllString(out, "$1***$3")
	out = reSessionURL.ReplaceAllString(out, "$1***")
	return out
}

// NewLogger returns a console logger at the given level (debug|info|warn|error).
// An empty level yields a no-op logger.
func NewLogger(level string) *zap.Logger {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zap.NewNop()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), lvl)
	return zap.New(core).Named("fmdata")
}

// ######################################################
//
//	REQUEST/RESPONSE INTERCEPTORS
//
// ######################################################

// doBeforeRequest logs the outgoing call and runs the user hook.
func (s *Session) doBeforeRequest(ctx context.Context, r *http.Request, prepared *PreparedRequest) error {
	beforeRequestLog(s.logger, prepared)
	if s.config.BeforeRequestFn != nil {
		var body io.Reader
		if prepared.Body != nil {
			body = bytes.NewReader(prepared.Body)
		}
		return s.config.BeforeRequestFn(ctx, r, prepared.Method, prepared.URL, body)
	}
	return nil
}

// doAfterRequest logs the decoded result and runs the user hook.
func (s *Session) doAfterRequest(ctx context.Context, op Operation, result any) error {
	afterRequestLog(s.logger, op, result)
	if s.config.AfterRequestFn != nil {
		return s.config.AfterRequestFn(ctx, op, result)
	}
	return nil
}

// ######################################################
//
//	REQUEST/RESPONSE LOGGING
//
// ######################################################

// beforeRequestLog logs method and URL; at debug level the compact JSON body is added.
func beforeRequestLog(logger *zap.Logger, prepared *PreparedRequest) {
	fields := []zap.Field{
		zap.String("op", prepared.Op.String()),
		zap.String("method", prepared.Method),
		zap.String("url", Mask(prepared.URL)),
	}
	if ce := logger.Check(zapcore.DebugLevel, "http request start"); ce != nil {
		if body := compactBody(prepared.Body); body != "" {
			fields = append(fields, zap.String("body", Mask(body)))
		}
		ce.Write(fields...)
		return
	}
	logger.Info("http request start", fields...)
}

func responseLog(logger *zap.Logger, raw *RawResponse) {
	fields := []zap.Field{
		zap.String("op", raw.Op.String()),
		zap.Int("status", raw.StatusCode),
		zap.Int("bytes", len(raw.Body)),
	}
	if ce := logger.Check(zapcore.DebugLevel, "http response"); ce != nil {
		fields = append(fields, zap.String("body", Mask(truncate(raw.Body))))
		ce.Write(fields...)
		return
	}
	logger.Info("http response", fields...)
}

// afterRequestLog logs a summary of the decoded result.
func afterRequestLog(logger *zap.Logger, op Operation, result any) {
	if ce := logger.Check(zapcore.DebugLevel, "request done"); ce != nil {
		fields := []zap.Field{zap.String("op", op.String())}
		switch typed := result.(type) {
		case Page:
			fields = append(fields, zap.Int("records", len(typed.Records)), zap.Int("found", typed.Info.FoundCount))
		case RecordSet:
			fields = append(fields, zap.Int("records", len(typed)))
		case Record:
			fields = append(fields, zap.Int64("recordId", typed.ID))
		case []string:
			fields = append(fields, zap.Strings("names", typed))
		case int64:
			fields = append(fields, zap.Int64("recordId", typed))
		}
		ce.Write(fields...)
	}
}

func compactBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err == nil {
		return compact.String()
	}
	return string(trimmed)
}
