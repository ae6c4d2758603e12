package graphqlapp

import (
	"context"
	"net/http"
)

type contextKey string
type requestContextKey int

const (
	httpRequestContextKey requestContextKey = iota + 1
	graphqlRequestContextKey
	metadataContextKey
)

// withRequestInfo returns the per-request context given to resolvers.
func withRequestInfo(ctx context.Context, r *http.Request, req *Request) context.Context {
	ctx = context.WithValue(ctx, httpRequestContextKey, r)
	return context.WithValue(ctx, graphqlRequestContextKey, req)
}

// RequestFromContext returns the HTTP request that triggered the execution.
func RequestFromContext(ctx context.Context) (*http.Request, bool) {
	r, ok := ctx.Value(httpRequestContextKey).(*http.Request)
	return r, ok
}

// GraphQLRequestFromContext returns the GraphQL request being executed.
func GraphQLRequestFromContext(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(graphqlRequestContextKey).(*Request)
	return req, ok
}

// AddRequestMetadataToContext adds a metadata entry available to resolvers
// for the current request.
func AddRequestMetadataToContext(ctx context.Context, key, value string) context.Context {
	h, ok := ctx.Value(metadataContextKey).(http.Header)
	if !ok {
		h = make(http.Header)
	} else {
		h = h.Clone()
	}
	h.Add(key, value)

	return context.WithValue(ctx, metadataContextKey, h)
}

// GetRequestMetadataFromContext returns the metadata added for the current
// request.
func GetRequestMetadataFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(metadataContextKey).(http.Header)
	return h
}
