package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// maxQueryValueLen caps a single query value. Dashboard searches are short.
const maxQueryValueLen = 256

var (
	// Logged only; parameters are always bound, never interpolated.
	sqlPattern = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1)`)

	scriptPattern = regexp.MustCompile(`(?i)(<script|javascript\s*:|on\w+\s*=)`)
)

// Sanitize rejects requests whose path or query string carries traversal
// sequences, null bytes, script payloads or oversized values. Rejections are
// answered with 400 and a JSON message.
func Sanitize(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			reject := func(reason string) error {
				logger.Warn().
					Str("path", req.URL.Path).
					Str("remote_ip", c.RealIP()).
					Str("reason", reason).
					Msg("request rejected")
				return c.JSON(http.StatusBadRequest, map[string]string{"message": reason})
			}

			for _, p := range []string{req.URL.Path, req.URL.RawPath} {
				if hasTraversal(p) {
					return reject("path traversal detected")
				}
				if hasNullByte(p) {
					return reject("null byte in path")
				}
			}

			for key, values := range req.URL.Query() {
				for _, v := range values {
					switch {
					case hasNullByte(key) || hasNullByte(v):
						return reject("null byte in query parameter " + key)
					case len(v) > maxQueryValueLen:
						return reject("query parameter " + key + " is too long")
					case scriptPattern.MatchString(key) || scriptPattern.MatchString(v):
						return reject("script content in query parameter " + key)
					case sqlPattern.MatchString(v):
						logger.Warn().Str("param", key).Str("path", req.URL.Path).
							Msg("SQL-like pattern in query parameter")
					}
				}
			}

			return next(c)
		}
	}
}

func hasTraversal(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(s, "..") || strings.Contains(lower, "%2e%2e") || strings.Contains(lower, "%252e")
}

func hasNullByte(s string) bool {
	return strings.ContainsRune(s, 0) || strings.Contains(s, "%00")
}

// SanitizeString drops null bytes and control characters other than tab and
// newline, then trims surrounding whitespace. Admission runs every free-text
// field through it before storage.
func SanitizeString(input string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if r == 0 || unicode.IsControl(r) {
			return -1
		}
		return r
	}, input)
	return strings.TrimSpace(cleaned)
}
