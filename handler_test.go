package graphqlapp_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/movio/graphqlapp"
	"github.com/movio/graphqlapp/testsrv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloStranger = `{"data": {"hello": "Hello stranger"}, "errors": null}`

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerGet(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/?query="+url.QueryEscape("{ hello }"), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, helloStranger, rec.Body.String())
}

func TestHandlerPostQueryString(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/?query="+url.QueryEscape("{ hello }"), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, helloStranger, rec.Body.String())
}

func TestHandlerPostJSON(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	t.Run("query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query": "{ hello }"}`))
		req.Header.Set("Content-Type", "application/json")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, helloStranger, rec.Body.String())
	})

	t.Run("variables and operation name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{
			"query": "query A { hello } query B($name: String) { hello(name: $name) }",
			"operationName": "B",
			"variables": {"name": "world"}
		}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data": {"hello": "Hello world"}, "errors": null}`, rec.Body.String())
	})

	t.Run("variables as encoded string", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{
			"query": "query($name: String) { hello(name: $name) }",
			"variables": "{\"name\": \"world\"}"
		}`))
		req.Header.Set("Content-Type", "application/json")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data": {"hello": "Hello world"}, "errors": null}`, rec.Body.String())
	})

	t.Run("body takes precedence over query string", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/?query="+url.QueryEscape("{ dummy }"), strings.NewReader(`{"query": "{ hello }"}`))
		req.Header.Set("Content-Type", "application/json")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, helloStranger, rec.Body.String())
	})
}

func TestHandlerPostGraphQL(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{ hello }"))
	req.Header.Set("Content-Type", "application/graphql")

	rec := serve(h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, helloStranger, rec.Body.String())
}

func TestHandlerInvalidMediaType(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{ hello }"))
	req.Header.Set("Content-Type", "dummy")

	rec := serve(h, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	assert.Equal(t, "Unsupported Media Type", rec.Body.String())
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	for _, method := range []string{http.MethodPut, http.MethodDelete, http.MethodPatch} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/", strings.NewReader(`{"query": "{ hello }"}`))
			req.Header.Set("Content-Type", "application/json")

			rec := serve(h, req)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, "Method Not Allowed", rec.Body.String())
			assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
		})
	}
}

func TestHandlerNoQuery(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	t.Run("GET", func(t *testing.T) {
		rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No GraphQL query found in the request", rec.Body.String())
	})

	t.Run("empty JSON body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/json")

		rec := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No GraphQL query found in the request", rec.Body.String())
	})

	t.Run("empty query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query": ""}`))
		req.Header.Set("Content-Type", "application/json")

		rec := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No GraphQL query found in the request", rec.Body.String())
	})
}

func TestHandlerMalformedRequests(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	t.Run("invalid JSON body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query": `))
		req.Header.Set("Content-Type", "application/json")

		rec := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Unable to parse request body", rec.Body.String())
	})

	t.Run("invalid variables in query string", func(t *testing.T) {
		target := "/?query=" + url.QueryEscape("{ hello }") + "&variables=" + url.QueryEscape("{nope")

		rec := serve(h, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Variables are invalid JSON", rec.Body.String())
	})
}

func TestHandlerInvalidField(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema())

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query": "{ dummy }"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{
		"data": null,
		"errors": [
			{
				"locations": [{"column": 3, "line": 1}],
				"message": "Cannot query field \"dummy\" on type \"Query\"."
			}
		]
	}`, rec.Body.String())
}

func TestHandlerExplorer(t *testing.T) {
	t.Run("graphiql", func(t *testing.T) {
		h := graphqlapp.NewHandler(testsrv.NewHelloSchema())
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept", "text/html")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")
	})

	t.Run("browser accept header with query", func(t *testing.T) {
		h := graphqlapp.NewHandler(testsrv.NewHelloSchema())
		req := httptest.NewRequest(http.MethodGet, "/?query="+url.QueryEscape("{ hello }"), nil)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "<!DOCTYPE html>")
	})

	t.Run("json preferred", func(t *testing.T) {
		h := graphqlapp.NewHandler(testsrv.NewHelloSchema())
		req := httptest.NewRequest(http.MethodGet, "/?query="+url.QueryEscape("{ hello }"), nil)
		req.Header.Set("Accept", "application/json, text/html;q=0.5")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, helloStranger, rec.Body.String())
	})

	t.Run("sandbox", func(t *testing.T) {
		h := graphqlapp.NewHandler(testsrv.NewHelloSchema(),
			graphqlapp.WithExplorer(graphqlapp.NewExplorer(graphqlapp.ExplorerSandbox, "Sandbox")))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept", "text/html")

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Sandbox")
	})

	t.Run("disabled", func(t *testing.T) {
		h := graphqlapp.NewHandler(testsrv.NewHelloSchema(), graphqlapp.WithExplorer(nil))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept", "text/html")

		rec := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "No GraphQL query found in the request", rec.Body.String())
	})
}

func TestHandlerNilSchemaPanics(t *testing.T) {
	assert.Panics(t, func() {
		graphqlapp.NewHandler(nil)
	})
}

func TestHandlerAsync(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewSlowHelloSchema(10*time.Millisecond),
		graphqlapp.WithExecutor(graphqlapp.NewAsyncExecutor(0)))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/?query="+url.QueryEscape("{ hello }"), nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, helloStranger, rec.Body.String())
}

func TestHandlerAsyncConcurrentRequests(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewSlowHelloSchema(20*time.Millisecond),
		graphqlapp.WithExecutor(graphqlapp.NewAsyncExecutor(2)))

	names := []string{"a", "b", "c", "d", "e"}
	results := make([]*httptest.ResponseRecorder, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			query := url.QueryEscape(`{ hello(name: "` + name + `") }`)
			results[i] = serve(h, httptest.NewRequest(http.MethodGet, "/?query="+query, nil))
		}(i, name)
	}
	wg.Wait()

	for i, name := range names {
		assert.Equal(t, http.StatusOK, results[i].Code)
		assert.JSONEq(t, `{"data": {"hello": "Hello `+name+`"}, "errors": null}`, results[i].Body.String())
	}
}

func TestHandlerCancelledRequest(t *testing.T) {
	h := graphqlapp.NewHandler(testsrv.NewSlowHelloSchema(time.Minute),
		graphqlapp.WithExecutor(graphqlapp.NewAsyncExecutor(0)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/?query="+url.QueryEscape("{ hello }"), nil).WithContext(ctx)

	rec := serve(h, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "context deadline exceeded")
}

func newUploadRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	for name, content := range files {
		part, err := mw.CreateFormFile(name, "test.txt")
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandlerUpload(t *testing.T) {
	const mutation = `mutation ($file: Upload!) { uploadMutation(file: $file) { success content } }`
	h := graphqlapp.NewHandler(testsrv.NewUploadSchema(),
		graphqlapp.WithExecutor(graphqlapp.NewAsyncExecutor(0)))

	t.Run("file map", func(t *testing.T) {
		req := newUploadRequest(t, map[string]string{
			"variables": `{ "file": ""}`,
			"query":     mutation,
			"file_map":  `{ "file0": "file" }`,
		}, map[string]string{
			"file0": "<file content>",
		})

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data": {"uploadMutation": {"content": "<file content>", "success": true}}, "errors": null}`, rec.Body.String())
	})

	t.Run("operations and map", func(t *testing.T) {
		req := newUploadRequest(t, map[string]string{
			"operations": `{"query": "` + strings.ReplaceAll(mutation, `"`, `\"`) + `", "variables": {"file": null}}`,
			"map":        `{"0": ["variables.file"]}`,
		}, map[string]string{
			"0": "<other content>",
		})

		rec := serve(h, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"data": {"uploadMutation": {"content": "<other content>", "success": true}}, "errors": null}`, rec.Body.String())
	})

	t.Run("missing file", func(t *testing.T) {
		req := newUploadRequest(t, map[string]string{
			"variables": `{ "file": ""}`,
			"query":     mutation,
			"file_map":  `{ "file0": "file" }`,
		}, nil)

		rec := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, `Missing file for file map entry "file0"`, rec.Body.String())
	})

	t.Run("invalid file map", func(t *testing.T) {
		req := newUploadRequest(t, map[string]string{
			"variables": `{ "file": ""}`,
			"query":     mutation,
			"file_map":  `not json`,
		}, map[string]string{
			"file0": "<file content>",
		})

		rec := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid file map", rec.Body.String())
	})

	t.Run("too large", func(t *testing.T) {
		h := graphqlapp.NewHandler(testsrv.NewUploadSchema(), graphqlapp.WithMaxUploadSize(64))
		req := newUploadRequest(t, map[string]string{
			"variables": `{ "file": ""}`,
			"query":     mutation,
			"file_map":  `{ "file0": "file" }`,
		}, map[string]string{
			"file0": strings.Repeat("x", 1024),
		})

		rec := serve(h, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Equal(t, "Request Entity Too Large", rec.Body.String())
	})
}

type executorFunc func(ctx context.Context)

func (f executorFunc) Execute(ctx context.Context, schema *graphql.Schema, req *graphqlapp.Request) *graphql.Response {
	f(ctx)
	return graphqlapp.SyncExecutor{}.Execute(ctx, schema, req)
}

func TestHandlerRequestContext(t *testing.T) {
	var (
		httpReq *http.Request
		gqlReq  *graphqlapp.Request
	)
	h := graphqlapp.NewHandler(testsrv.NewHelloSchema(), graphqlapp.WithExecutor(executorFunc(func(ctx context.Context) {
		httpReq, _ = graphqlapp.RequestFromContext(ctx)
		gqlReq, _ = graphqlapp.GraphQLRequestFromContext(ctx)
	})))

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/?query="+url.QueryEscape("{ hello }"), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, httpReq)
	assert.Equal(t, http.MethodGet, httpReq.Method)
	require.NotNil(t, gqlReq)
	assert.Equal(t, "{ hello }", gqlReq.Query)
}
