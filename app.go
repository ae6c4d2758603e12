package graphqlapp

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultPath = "/"

// App mounts a GraphQL Handler on a router together with the configured
// plugins.
type App struct {
	Handler *Handler

	path    string
	plugins []Plugin
}

// NewApp returns an App serving handler on path.
func NewApp(handler *Handler, path string, plugins []Plugin) *App {
	if path == "" {
		path = defaultPath
	}
	return &App{
		Handler: handler,
		path:    path,
		plugins: plugins,
	}
}

// Router returns the public router: the GraphQL endpoint, the plugin routes,
// plugin middleware and monitoring.
func (a *App) Router() http.Handler {
	mux := http.NewServeMux()

	mux.Handle(a.path,
		applyMiddleware(
			a.Handler,
			debugMiddleware,
		),
	)

	for _, plugin := range a.plugins {
		plugin.SetupPublicMux(mux)
	}

	var result http.Handler = mux

	for i := len(a.plugins) - 1; i >= 0; i-- {
		result = a.plugins[i].ApplyMiddlewarePublicMux(result)
	}

	return otelhttp.NewHandler(
		applyMiddleware(result, monitoringMiddleware),
		"graphqlapp",
	)
}
