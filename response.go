package graphqlapp

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/graph-gophers/graphql-go"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Response is the JSON document returned for an executed request. Data and
// Errors are always present and null when empty.
type Response struct {
	Data       json.RawMessage        `json:"data"`
	Errors     gqlerror.List          `json:"errors"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

func newResponse(resp *graphql.Response) *Response {
	res := &Response{
		Data:       resp.Data,
		Extensions: resp.Extensions,
	}
	if len(resp.Data) == 0 {
		res.Data = nil
	}

	for _, qe := range resp.Errors {
		err := &gqlerror.Error{
			Err:        qe.ResolverError,
			Message:    qe.Message,
			Extensions: qe.Extensions,
			Rule:       qe.Rule,
		}
		for _, loc := range qe.Locations {
			err.Locations = append(err.Locations, gqlerror.Location{Line: loc.Line, Column: loc.Column})
		}
		for _, p := range qe.Path {
			switch p := p.(type) {
			case string:
				err.Path = append(err.Path, ast.PathName(p))
			case int:
				err.Path = append(err.Path, ast.PathIndex(p))
			}
		}
		res.Errors = append(res.Errors, err)
	}

	return res
}

// StatusCode is 200 for a response without errors, 400 otherwise.
func (r *Response) StatusCode() int {
	if len(r.Errors) > 0 {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	io.WriteString(w, body)
}
