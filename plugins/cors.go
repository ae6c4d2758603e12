package plugins

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/movio/graphqlapp"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
)

func init() {
	graphqlapp.RegisterPlugin(&CorsPlugin{})
}

type CorsPlugin struct {
	graphqlapp.BasePlugin
	config CorsPluginConfig
}

type CorsPluginConfig struct {
	AllowedOrigins   []string `json:"allowed-origins"`
	AllowedHeaders   []string `json:"allowed-headers"`
	AllowCredentials bool     `json:"allow-credentials"`
	MaxAge           int      `json:"max-age"`
	Debug            bool     `json:"debug"`
}

func NewCorsPlugin(options CorsPluginConfig) *CorsPlugin {
	return &CorsPlugin{graphqlapp.BasePlugin{}, options}
}

func (p *CorsPlugin) ID() string {
	return "cors"
}

func (p *CorsPlugin) Configure(cfg *graphqlapp.Config, data json.RawMessage) error {
	return json.Unmarshal(data, &p.config)
}

// ApplyMiddlewarePublicMux answers preflight requests and adds the CORS
// headers. Only GET and POST reach the GraphQL handler.
func (p *CorsPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   p.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   p.config.AllowedHeaders,
		AllowCredentials: p.config.AllowCredentials,
		MaxAge:           p.config.MaxAge,
		Debug:            p.config.Debug,
	})
	if p.config.Debug {
		c.Log = log.New(logrus.StandardLogger().Writer(), "cors:", log.Lshortfile)
	}
	return c.Handler(h)
}
