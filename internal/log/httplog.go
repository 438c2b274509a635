package log

import (
	"time"
)

// LogHTTPRequest logs one served request, at error level when err is set
func LogHTTPRequest(method, path string, status int, duration time.Duration, size int, remoteAddr, userAgent string, err error) {
	fields := []any{
		"method", method,
		"path", path,
		"status", status,
		"duration_ms", duration.Milliseconds(),
		"size", size,
		"remote_addr", remoteAddr,
		"user_agent", userAgent,
	}
	l := GetSugaredLogger()
	if err != nil {
		l.Errorw("http request failed", append(fields, "error", err.Error())...)
		return
	}
	l.Infow("http request", fields...)
}
