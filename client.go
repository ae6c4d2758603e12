package graphqlapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"time"

	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const userAgentPrefix = "GraphQLApp"

// Client sends GraphQL requests to a graphqlapp endpoint.
type Client struct {
	HTTPClient      *http.Client
	MaxResponseSize int64
	UserAgent       string
	Header          http.Header
}

// ClientOpt is a function used to set a GraphQL client option
type ClientOpt func(*Client)

// NewClient creates a new Client from the given options.
func NewClient(opts ...ClientOpt) *Client {
	c := &Client{
		HTTPClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		MaxResponseSize: 1024 * 1024,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithHTTPClient sets a custom HTTP client to be used when making downstream queries.
func WithHTTPClient(client *http.Client) ClientOpt {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

// WithMaxResponseSize sets the max allowed response size. The client will only
// read up to maxResponseSize and that size is exceeded an an error will be
// returned.
func WithMaxResponseSize(maxResponseSize int64) ClientOpt {
	return func(c *Client) {
		c.MaxResponseSize = maxResponseSize
	}
}

// WithUserAgent set the user agent used by the client.
func WithUserAgent(userAgent string) ClientOpt {
	return func(c *Client) {
		c.UserAgent = userAgent
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) ClientOpt {
	return func(c *Client) {
		if c.Header == nil {
			c.Header = make(http.Header)
		}
		c.Header.Add(key, value)
	}
}

// NewRequest creates a new GraphQL requests from the provided body.
func NewRequest(body string) *Request {
	return &Request{
		Query: body,
	}
}

// StatusError is returned when the server rejects a request before executing
// it.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Request executes a GraphQL request sent as a JSON document. The response
// data is decoded into out. GraphQL errors are returned as a gqlerror.List.
func (c *Client) Request(ctx context.Context, url string, request *Request, out interface{}) error {
	var buf bytes.Buffer
	err := json.NewEncoder(&buf).Encode(request)
	if err != nil {
		return fmt.Errorf("unable to encode request body: %w", err)
	}

	return c.do(ctx, url, "application/json; charset=utf-8", &buf, out)
}

// Upload executes a GraphQL request as a multipart form. Each entry of
// request.Files is sent as a file part and request.FileMap tells the server
// which variables receive it.
func (c *Client) Upload(ctx context.Context, url string, request *Request, out interface{}) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := c.writeUploadForm(mw, request); err != nil {
		return fmt.Errorf("unable to encode request body: %w", err)
	}

	return c.do(ctx, url, mw.FormDataContentType(), &buf, out)
}

func (c *Client) writeUploadForm(mw *multipart.Writer, request *Request) error {
	variables, err := json.Marshal(request.Variables)
	if err != nil {
		return err
	}
	fileMap, err := json.Marshal(request.FileMap)
	if err != nil {
		return err
	}

	fields := [][2]string{
		{"query", request.Query},
		{"variables", string(variables)},
		{"file_map", string(fileMap)},
	}
	if request.OperationName != "" {
		fields = append(fields, [2]string{"operationName", request.OperationName})
	}
	for _, field := range fields {
		if err := mw.WriteField(field[0], field[1]); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(request.Files))
	for name := range request.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		upload := request.Files[name]
		filename := upload.Filename
		if filename == "" {
			filename = name
		}
		part, err := mw.CreateFormFile(name, filename)
		if err != nil {
			return err
		}
		if _, err := part.Write(upload.Content); err != nil {
			return err
		}
	}

	return mw.Close()
}

func (c *Client) do(ctx context.Context, url, contentType string, body io.Reader, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("unable to create request: %w", err)
	}

	if c.Header != nil {
		httpReq.Header = c.Header.Clone()
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json; charset=utf-8")

	if c.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.UserAgent)
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	res, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("error during request: %w", err)
	}
	defer res.Body.Close()

	maxResponseSize := c.MaxResponseSize
	if maxResponseSize == 0 {
		maxResponseSize = math.MaxInt64
	}

	limitReader := io.LimitedReader{
		R: res.Body,
		N: maxResponseSize,
	}

	if mt, _, _ := mime.ParseMediaType(res.Header.Get("Content-Type")); mt != "application/json" {
		message, _ := io.ReadAll(&limitReader)
		return &StatusError{StatusCode: res.StatusCode, Message: string(message)}
	}

	graphqlResponse := struct {
		Data   interface{}   `json:"data"`
		Errors gqlerror.List `json:"errors"`
	}{
		Data: out,
	}

	err = json.NewDecoder(&limitReader).Decode(&graphqlResponse)
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			if limitReader.N == 0 {
				return fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)
			}
		}
		return fmt.Errorf("error decoding response: %w", err)
	}

	if len(graphqlResponse.Errors) > 0 {
		return graphqlResponse.Errors
	}

	return nil
}

func GenerateUserAgent(operation string) string {
	return fmt.Sprintf("%s/%s (%s)", userAgentPrefix, Version, operation)
}
