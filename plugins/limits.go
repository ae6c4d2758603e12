package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/movio/graphqlapp"
)

func init() {
	graphqlapp.RegisterPlugin(&LimitsPlugin{})
}

// LimitsPlugin caps the size of request bodies and the time a request may
// spend executing. The time limit is a context deadline, resolvers are
// expected to honour it.
type LimitsPlugin struct {
	graphqlapp.BasePlugin
	config LimitsPluginConfig
}

type LimitsPluginConfig struct {
	MaxRequestBytes     int64  `json:"max-request-bytes"`
	MaxResponseTime     string `json:"max-response-time"`
	maxResponseDuration time.Duration
}

func NewLimitsPlugin(options LimitsPluginConfig) (*LimitsPlugin, error) {
	p := &LimitsPlugin{graphqlapp.BasePlugin{}, options}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LimitsPlugin) ID() string {
	return "limits"
}

func (p *LimitsPlugin) Configure(cfg *graphqlapp.Config, data json.RawMessage) error {
	p.config = LimitsPluginConfig{}
	if err := json.Unmarshal(data, &p.config); err != nil {
		return err
	}
	return p.validate()
}

func (p *LimitsPlugin) validate() error {
	if p.config.MaxRequestBytes == 0 {
		return fmt.Errorf("MaxRequestBytes is undefined")
	}

	if p.config.MaxResponseTime == "" {
		return fmt.Errorf("MaxResponseTime is undefined")
	}

	var err error
	p.config.maxResponseDuration, err = time.ParseDuration(p.config.MaxResponseTime)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}

	return nil
}

func (p *LimitsPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, p.config.MaxRequestBytes)

		ctx, cancel := context.WithTimeout(r.Context(), p.config.maxResponseDuration)
		defer cancel()

		h.ServeHTTP(w, r.WithContext(ctx))
	})
}
