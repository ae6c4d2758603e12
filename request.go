package graphqlapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

const (
	noQueryMessage          = "No GraphQL query found in the request"
	unsupportedMediaMessage = "Unsupported Media Type"
	invalidBodyMessage      = "Unable to parse request body"
	invalidVariablesMessage = "Variables are invalid JSON"
	invalidFileMapMessage   = "Invalid file map"
	tooLargeMessage         = "Request Entity Too Large"
)

// Request is a GraphQL request extracted from an HTTP request.
type Request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	// Files contains the uploaded parts of a multipart request, keyed by
	// their form field name.
	Files map[string]Upload `json:"-"`
	// FileMap maps an uploaded part name to the paths in Variables its
	// content is substituted at.
	FileMap map[string][]string `json:"-"`
}

// requestError is a structural error detected before execution. It is
// reported to the client as plain text.
type requestError struct {
	status  int
	message string
	err     error
}

func (e *requestError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s", e.message, e.err)
	}
	return e.message
}

func (e *requestError) Unwrap() error {
	return e.err
}

func badRequest(message string, err error) *requestError {
	return &requestError{status: http.StatusBadRequest, message: message, err: err}
}

// bodyError reports a failure to read the request body, distinguishing
// bodies cut by http.MaxBytesReader.
func bodyError(err error) *requestError {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return &requestError{status: http.StatusRequestEntityTooLarge, message: tooLargeMessage, err: err}
	}
	return badRequest(invalidBodyMessage, err)
}

type requestParser func(r *http.Request) (*Request, error)

// requestParsers maps a normalised POST media type to its parser.
var requestParsers = map[string]requestParser{
	"application/json":    parseJSONRequest,
	"application/graphql": parseGraphQLRequest,
	"multipart/form-data": parseMultipartRequest,
}

// parseRequest extracts the GraphQL request. GET requests always read the
// URL, POST requests are dispatched on their media type and fall back to the
// URL when it carries a query.
func parseRequest(r *http.Request) (*Request, error) {
	if r.Method == http.MethodGet {
		return parseURLRequest(r)
	}

	if parse, ok := requestParsers[mediaType(r)]; ok {
		return parse(r)
	}

	if r.URL.Query().Has("query") {
		return parseURLRequest(r)
	}

	return nil, &requestError{status: http.StatusUnsupportedMediaType, message: unsupportedMediaMessage}
}

func mediaType(r *http.Request) string {
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(contentType)
}

func parseURLRequest(r *http.Request) (*Request, error) {
	params := r.URL.Query()
	variables, err := decodeVariables(params.Get("variables"))
	if err != nil {
		return nil, err
	}

	return &Request{
		Query:         params.Get("query"),
		OperationName: params.Get("operationName"),
		Variables:     variables,
	}, nil
}

func parseJSONRequest(r *http.Request) (*Request, error) {
	var body struct {
		Query         string          `json:"query"`
		OperationName string          `json:"operationName"`
		Variables     json.RawMessage `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return &Request{}, nil
		}
		return nil, bodyError(err)
	}

	variables, err := decodeRawVariables(body.Variables)
	if err != nil {
		return nil, err
	}

	return &Request{
		Query:         body.Query,
		OperationName: body.OperationName,
		Variables:     variables,
	}, nil
}

func parseGraphQLRequest(r *http.Request) (*Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, bodyError(err)
	}
	return &Request{Query: string(body)}, nil
}

// decodeVariables decodes variables sent as JSON text (query string or form
// field).
func decodeVariables(s string) (map[string]interface{}, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var variables map[string]interface{}
	if err := json.Unmarshal([]byte(s), &variables); err != nil {
		return nil, badRequest(invalidVariablesMessage, err)
	}
	return variables, nil
}

// decodeRawVariables accepts an object, null, or a string containing an
// encoded object.
func decodeRawVariables(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		return decodeVariables(encoded)
	}

	var variables map[string]interface{}
	if err := json.Unmarshal(raw, &variables); err != nil {
		return nil, badRequest(invalidVariablesMessage, err)
	}
	return variables, nil
}
