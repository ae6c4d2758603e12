package graphqlapp

import (
	"context"
	"net/http"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const methodNotAllowedMessage = "Method Not Allowed"

// Handler serves a GraphQL schema over HTTP. It can be used as the only
// handler of a server or mounted as one route of a router.
type Handler struct {
	schema        *graphql.Schema
	executor      Executor
	explorer      http.Handler
	maxUploadSize int64
	tracer        trace.Tracer
}

// HandlerOpt is a function used to set a Handler option.
type HandlerOpt func(*Handler)

// WithExecutor sets the executor strategy. Requests are executed with a
// SyncExecutor by default.
func WithExecutor(executor Executor) HandlerOpt {
	return func(h *Handler) {
		h.executor = executor
	}
}

// WithExplorer sets the page served to browsers visiting the endpoint. A nil
// handler disables the explorer.
func WithExplorer(explorer http.Handler) HandlerOpt {
	return func(h *Handler) {
		h.explorer = explorer
	}
}

// WithMaxUploadSize limits the size of multipart request bodies.
func WithMaxUploadSize(size int64) HandlerOpt {
	return func(h *Handler) {
		h.maxUploadSize = size
	}
}

// NewHandler returns a handler executing requests against schema.
func NewHandler(schema *graphql.Schema, opts ...HandlerOpt) *Handler {
	if schema == nil {
		panic("graphqlapp: nil schema")
	}

	h := &Handler{
		schema:   schema,
		executor: SyncExecutor{},
		explorer: NewExplorer(ExplorerGraphiQL, defaultExplorerTitle),
		tracer:   otel.GetTracerProvider().Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.executor == nil {
		h.executor = SyncExecutor{}
	}

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.Header().Set("Allow", "GET, POST")
		writeText(w, http.StatusMethodNotAllowed, methodNotAllowedMessage)
		return
	}

	if r.Method == http.MethodGet && h.explorer != nil && prefersHTML(r) {
		AddField(r.Context(), "explorer", true)
		h.explorer.ServeHTTP(w, r)
		return
	}

	if h.maxUploadSize > 0 && mediaType(r) == "multipart/form-data" {
		if r.ContentLength > h.maxUploadSize {
			AddField(r.Context(), "request.rejected", tooLargeMessage)
			writeText(w, http.StatusRequestEntityTooLarge, tooLargeMessage)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	req, err := parseRequest(r)
	if err != nil {
		status, message := http.StatusBadRequest, invalidBodyMessage
		if reqErr, ok := err.(*requestError); ok {
			status, message = reqErr.status, reqErr.message
		}
		AddField(r.Context(), "request.rejected", err.Error())
		writeText(w, status, message)
		return
	}

	if req.Query == "" {
		writeText(w, http.StatusBadRequest, noQueryMessage)
		return
	}

	res := h.execute(withRequestInfo(r.Context(), r, req), req)
	writeJSON(w, res.StatusCode(), res)
}

func (h *Handler) execute(ctx context.Context, req *Request) *Response {
	operationType, operationName := inspectOperation(req)
	AddFields(ctx, EventFields{
		"operation.name": operationName,
		"operation.type": operationType,
	})
	if e := getEvent(ctx); e != nil && e.debugEnabled() {
		e.addField("operation.variables", req.Variables)
	}

	ctx, span := h.tracer.Start(ctx, "GraphQL Request",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			semconv.GraphqlOperationTypeKey.String(operationType),
			semconv.GraphqlOperationName(operationName),
			semconv.GraphqlDocument(req.Query),
		),
	)
	defer span.End()

	start := time.Now()
	res := newResponse(h.executor.Execute(ctx, h.schema, req))
	duration := time.Since(start)

	if len(res.Errors) > 0 {
		span.RecordError(res.Errors)
		span.SetStatus(codes.Error, res.Errors.Error())
		AddField(ctx, "errors", res.Errors)
	}

	if debugInfo, ok := ctx.Value(DebugKey).(DebugInfo); ok {
		extensions := make(map[string]interface{})
		if debugInfo.Query {
			extensions["query"] = req.Query
		}
		if debugInfo.Variables {
			extensions["variables"] = req.Variables
		}
		if debugInfo.Timing {
			extensions["timing"] = map[string]interface{}{"execution": duration.String()}
		}
		if debugInfo.TraceID {
			extensions["traceid"] = span.SpanContext().TraceID().String()
		}
		for name, value := range extensions {
			if res.Extensions == nil {
				res.Extensions = make(map[string]interface{})
			}
			res.Extensions[name] = value
		}
	}

	return res
}

// inspectOperation returns the type and name of the operation selected by
// the request. Documents that fail to parse are left for the engine to
// report.
func inspectOperation(req *Request) (string, string) {
	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		return "", req.OperationName
	}
	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		return "", req.OperationName
	}
	return string(op.Operation), op.Name
}
