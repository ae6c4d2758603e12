package graphqlapp

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

type Plugin interface {
	// ID must return the plugin identifier (name). This is the id used to match
	// the plugin in the configuration.
	ID() string
	// Configure is called during initialization and every time the config is modified.
	// The pluginCfg argument is the raw json contained in the "config" key for that plugin.
	Configure(cfg *Config, pluginCfg json.RawMessage) error
	// SetupPublicMux lets the plugin register additional routes next to the
	// GraphQL endpoint.
	SetupPublicMux(mux *http.ServeMux)
	ApplyMiddlewarePublicMux(http.Handler) http.Handler
}

type BasePlugin struct{}

func (p *BasePlugin) Configure(*Config, json.RawMessage) error {
	return nil
}

func (p *BasePlugin) SetupPublicMux(mux *http.ServeMux) {}

func (p *BasePlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return h
}

var registeredPlugins = map[string]Plugin{}

func RegisterPlugin(p Plugin) {
	if _, found := registeredPlugins[p.ID()]; found {
		log.Fatalf("plugin %q already registered", p.ID())
	}
	registeredPlugins[p.ID()] = p
}

func RegisteredPlugins() map[string]Plugin {
	return registeredPlugins
}
