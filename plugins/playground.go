package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/movio/graphqlapp"
)

func init() {
	graphqlapp.RegisterPlugin(&PlaygroundPlugin{})
}

// PlaygroundPlugin serves the explorer on a route of its own, for
// deployments that disable it on the GraphQL endpoint.
type PlaygroundPlugin struct {
	graphqlapp.BasePlugin
	config   PlaygroundPluginConfig
	endpoint string
}

type PlaygroundPluginConfig struct {
	Path   string `json:"path"`
	Flavor string `json:"flavor"`
	Title  string `json:"title"`
}

func (p *PlaygroundPlugin) ID() string {
	return "playground"
}

func (p *PlaygroundPlugin) Configure(cfg *graphqlapp.Config, data json.RawMessage) error {
	p.config = PlaygroundPluginConfig{
		Path:  "/playground",
		Title: "GraphQL Playground",
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p.config); err != nil {
			return err
		}
	}
	p.endpoint = cfg.Path
	return nil
}

func (p *PlaygroundPlugin) SetupPublicMux(mux *http.ServeMux) {
	explorer := graphqlapp.NewExplorer(p.config.Flavor, p.config.Title)
	mux.Handle(p.config.Path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the explorer targets the request path, point it at the GraphQL endpoint
		r2 := r.Clone(r.Context())
		r2.RequestURI = p.endpoint
		r2.URL.Path = p.endpoint
		explorer.ServeHTTP(w, r2)
	}))
}
