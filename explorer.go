package graphqlapp

import (
	"net/http"
	"net/url"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/munnerz/goautoneg"
)

// Explorer flavors.
const (
	ExplorerGraphiQL = "graphiql"
	ExplorerSandbox  = "sandbox"
)

const defaultExplorerTitle = "GraphiQL"

// NewExplorer returns a handler serving an interactive query explorer. The
// page targets the path the request was received on, so the explorer works
// wherever the GraphQL handler is mounted.
func NewExplorer(flavor, title string) http.Handler {
	if title == "" {
		title = defaultExplorerTitle
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := requestPath(r)
		switch flavor {
		case ExplorerSandbox:
			playground.ApolloSandboxHandler(title, endpoint).ServeHTTP(w, r)
		default:
			playground.Handler(title, endpoint).ServeHTTP(w, r)
		}
	})
}

// prefersHTML reports whether the Accept header favours an HTML page over a
// JSON document.
func prefersHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return false
	}
	return goautoneg.Negotiate(accept, []string{"application/json", "text/html"}) == "text/html"
}

// requestPath returns the path as sent by the client, before any prefix
// stripping done by a router.
func requestPath(r *http.Request) string {
	if u, err := url.ParseRequestURI(r.RequestURI); err == nil && u.Path != "" {
		return u.Path
	}
	return r.URL.Path
}
