package testsrv

import (
	"context"
	"net/http/httptest"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/movio/graphqlapp"
)

const helloSchema = `
	type Query {
		hello(name: String = "stranger"): String
	}`

type helloResolver struct{}

// helloArgs receives the default name when the argument is omitted.
type helloArgs struct {
	Name string
}

func greet(args helloArgs) *string {
	greeting := "Hello " + args.Name
	return &greeting
}

func (*helloResolver) Hello(args helloArgs) *string {
	return greet(args)
}

// slowHelloResolver answers after a delay, or with the context error if the
// request is cancelled first.
type slowHelloResolver struct {
	delay time.Duration
}

func (r *slowHelloResolver) Hello(ctx context.Context, args helloArgs) (*string, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return greet(args), nil
}

// NewHelloSchema returns a schema with a single `hello(name)` query.
func NewHelloSchema() *graphql.Schema {
	return graphql.MustParseSchema(helloSchema, &helloResolver{})
}

// NewSlowHelloSchema returns the hello schema with a resolver waiting delay
// before answering.
func NewSlowHelloSchema(delay time.Duration) *graphql.Schema {
	return graphql.MustParseSchema(helloSchema, &slowHelloResolver{delay: delay})
}

// NewHelloService serves the hello schema.
func NewHelloService(opts ...graphqlapp.HandlerOpt) *httptest.Server {
	return httptest.NewServer(graphqlapp.NewHandler(NewHelloSchema(), opts...))
}
