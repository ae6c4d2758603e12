package graphqlapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
)

type middleware func(http.Handler) http.Handler

// DebugKey is used to request debug info from the context
const DebugKey contextKey = "debug"

const debugHeader = "X-GraphQLApp-Debug"

// DebugInfo lists the extensions added to the response of a request.
type DebugInfo struct {
	Variables bool
	Query     bool
	Timing    bool
	TraceID   bool
}

var debugFlags = map[string]func(*DebugInfo){
	"all": func(i *DebugInfo) {
		*i = DebugInfo{Variables: true, Query: true, Timing: true, TraceID: true}
	},
	"query":     func(i *DebugInfo) { i.Query = true },
	"variables": func(i *DebugInfo) { i.Variables = true },
	"timing":    func(i *DebugInfo) { i.Timing = true },
	"traceid":   func(i *DebugInfo) { i.TraceID = true },
}

// parseDebugHeader reads a space or comma separated list of flags. Unknown
// flags are ignored.
func parseDebugHeader(value string) DebugInfo {
	var info DebugInfo
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	for _, field := range fields {
		if set, ok := debugFlags[strings.ToLower(field)]; ok {
			set(&info)
		}
	}
	return info
}

func debugMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), DebugKey, parseDebugHeader(r.Header.Get(debugHeader)))
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestEventName names the request event after the executed operation type.
func requestEventName(fields EventFields) string {
	if op, ok := fields["operation.type"].(string); ok && op != "" {
		return op
	}
	return "request"
}

// countingReader counts the bytes read through it.
type countingReader struct {
	io.ReadCloser
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.ReadCloser.Read(p)
	c.n += int64(n)
	return n, err
}

func monitoringMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, event := startEvent(r.Context(), requestEventName)
		if !strings.HasPrefix(r.Header.Get("User-Agent"), userAgentPrefix) {
			defer event.finish()
		}
		r = r.WithContext(ctx)

		if host := r.Header.Get("X-Forwarded-Host"); host != "" {
			event.addField("forwarded_host", host)
		}

		contentType := mediaType(r)
		event.addFields(EventFields{
			"request.path":         r.URL.Path,
			"request.method":       r.Method,
			"request.content-type": contentType,
		})
		if r.URL.RawQuery != "" {
			event.addField("request.query", loggedQuery(event, r.URL.RawQuery))
		}

		// uploads are streamed to the handler, other bodies are logged
		var requestSize func() int64
		if contentType == "multipart/form-data" {
			body := &countingReader{ReadCloser: r.Body}
			r.Body = body
			requestSize = func() int64 { return body.n }
		} else {
			buf, err := io.ReadAll(r.Body)
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(buf))
			requestSize = func() int64 { return int64(len(buf)) }
			if len(buf) > 0 {
				addRequestBody(event, contentType, buf)
			}
		}

		promHTTPInFlightGauge.Inc()
		m := httpsnoop.CaptureMetrics(h, w, r)
		promHTTPInFlightGauge.Dec()

		size := requestSize()
		if contentType == "multipart/form-data" {
			event.addField("request.body", fmt.Sprintf("%d bytes", size))
			promUploadSizes.With(prometheus.Labels{}).Observe(float64(size))
		}
		event.addFields(EventFields{
			"response.status": m.Code,
			"response.size":   m.Written,
		})

		promHTTPRequestCounter.With(prometheus.Labels{
			"code": fmt.Sprintf("%dXX", m.Code/100),
		}).Inc()
		promHTTPRequestSizes.With(prometheus.Labels{}).Observe(float64(size))
		promHTTPResponseSizes.With(prometheus.Labels{}).Observe(float64(m.Written))
		promHTTPResponseDurations.With(prometheus.Labels{}).Observe(m.Duration.Seconds())
	})
}

// loggedQuery drops the variables from a raw query string unless debug
// records are enabled.
func loggedQuery(e *event, rawQuery string) string {
	if e.debugEnabled() {
		return rawQuery
	}
	params, err := url.ParseQuery(rawQuery)
	if err != nil || !params.Has("variables") {
		return rawQuery
	}
	params.Del("variables")
	return params.Encode()
}

// addRequestBody logs JSON bodies as structured values and anything else as
// text. Variables of a JSON body are only logged at debug level.
func addRequestBody(e *event, contentType string, body []byte) {
	if contentType != "application/json" {
		e.addField("request.body", string(body))
		return
	}

	var payload interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		e.addFields(EventFields{
			"request.body":  string(body),
			"request.error": err,
		})
		return
	}
	if fields, ok := payload.(map[string]interface{}); ok && !e.debugEnabled() {
		delete(fields, "variables")
	}
	e.addField("request.body", &payload)
}

func applyMiddleware(h http.Handler, mws ...middleware) http.Handler {
	for _, mw := range mws {
		h = mw(h)
	}
	return h
}
