package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/movio/graphqlapp"
)

func init() {
	graphqlapp.RegisterPlugin(&HeadersPlugin{})
}

// HeadersPlugin exposes the allowed request headers to resolvers as request
// metadata.
type HeadersPlugin struct {
	graphqlapp.BasePlugin
	config HeadersPluginConfig
}

type HeadersPluginConfig struct {
	AllowedHeaders []string `json:"allowed-headers"`
}

func NewHeadersPlugin(options HeadersPluginConfig) *HeadersPlugin {
	return &HeadersPlugin{graphqlapp.BasePlugin{}, options}
}

func (p *HeadersPlugin) ID() string {
	return "headers"
}

func (p *HeadersPlugin) Configure(cfg *graphqlapp.Config, data json.RawMessage) error {
	return json.Unmarshal(data, &p.config)
}

func (p *HeadersPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for _, header := range p.config.AllowedHeaders {
			for _, value := range r.Header.Values(header) {
				ctx = graphqlapp.AddRequestMetadataToContext(ctx, header, value)
			}
		}
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}
