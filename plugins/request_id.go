package plugins

import (
	"net/http"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/movio/graphqlapp"
)

const RequestIDHeader = "X-Request-Id"

func init() {
	graphqlapp.RegisterPlugin(&RequestIdentifierPlugin{})
}

// RequestIdentifierPlugin tags every request with an id, taken from the
// X-Request-Id header when present. The id is logged with the request event,
// available to resolvers as request metadata and echoed in the response.
type RequestIdentifierPlugin struct {
	graphqlapp.BasePlugin
}

func (p *RequestIdentifierPlugin) ID() string {
	return "request-id"
}

func (p *RequestIdentifierPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)

		ctx := r.Context()
		if strings.TrimSpace(requestID) == "" {
			requestID = uuid.Must(uuid.NewV4()).String()
		} else if id, err := uuid.FromString(requestID); err == nil {
			requestID = id.String()
		}
		graphqlapp.AddField(ctx, "request.id", requestID)

		rw.Header().Set(RequestIDHeader, requestID)
		ctx = graphqlapp.AddRequestMetadataToContext(ctx, RequestIDHeader, requestID)
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}
