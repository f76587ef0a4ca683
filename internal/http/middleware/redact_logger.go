package middleware

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/workfair-chat-backend/internal/observability"
)

// RedactOptions adds headers and query parameters to the masked sets.
type RedactOptions struct {
	MaskHeaders []string
	MaskQuery   []string
}

var (
	emailRE = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	uuidRE  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	phoneRE = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// scrub masks e-mails, UUIDs and phone numbers, in that order.
func scrub(s string) string {
	s = emailRE.ReplaceAllString(s, "[REDACTED:email]")
	s = uuidRE.ReplaceAllString(s, "[REDACTED:id]")
	return phoneRE.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactingLogger attaches the request-scoped logger and writes one access
// log line per request. Bodies are never logged. Credentials in headers and
// query strings (bearer tokens, websocket "token" params) are masked;
// remaining values are passed through scrub.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	maskH := lowerSet([]string{"authorization", "cookie", "set-cookie", "x-api-key"}, opts.MaskHeaders)
	maskQ := lowerSet([]string{"token", "access_token"}, opts.MaskQuery)

	return func(c *gin.Context) {
		start := time.Now()
		route := routeOf(c)
		lg := attachLogger(c, route)

		query := redactQuery(c.Request.URL.RawQuery, maskQ)
		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskH[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= 500:
			ev = lg.Error()
		case status >= 400:
			ev = lg.Warn()
		default:
			ev = lg.Info()
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		if tid := observability.TraceID(c.Request.Context()); tid != "" {
			ev = ev.Str("trace_id", tid)
		}
		ev.
			Str("user_id", UserID(c)).
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Bool("websocket", c.IsWebsocket()).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// redactQuery re-encodes raw with keys sorted. Masked keys log as the
// literal "key=[REDACTED]"; other values are scrubbed and escaped.
func redactQuery(raw string, mask map[string]struct{}) string {
	if raw == "" {
		return ""
	}
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return "[unparseable]"
	}
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	pair := func(k, v string) {
		if b.Len() > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(v)
	}
	for _, k := range keys {
		if _, ok := mask[strings.ToLower(k)]; ok {
			pair(k, "[REDACTED]")
			continue
		}
		for _, v := range vals[k] {
			pair(k, url.QueryEscape(scrub(v)))
		}
	}
	return b.String()
}

func lowerSet(base, extra []string) map[string]struct{} {
	out := make(map[string]struct{}, len(base)+len(extra))
	for _, s := range append(base, extra...) {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}
