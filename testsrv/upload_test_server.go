package testsrv

import (
	"net/http/httptest"

	"github.com/graph-gophers/graphql-go"
	"github.com/movio/graphqlapp"
)

const uploadSchema = `
	scalar Upload

	type Query {
		hello(name: String = "stranger"): String
	}

	type Mutation {
		uploadMutation(file: Upload!): UploadResult
	}

	type UploadResult {
		success: Boolean
		content: String
	}`

type uploadResult struct {
	success bool
	content string
}

func (u *uploadResult) Success() *bool {
	return &u.success
}

func (u *uploadResult) Content() *string {
	return &u.content
}

type uploadResolver struct {
	helloResolver
}

func (*uploadResolver) UploadMutation(args struct{ File graphqlapp.Upload }) *uploadResult {
	return &uploadResult{
		success: true,
		content: string(args.File.Content),
	}
}

// NewUploadSchema returns a schema with the hello query and an
// `uploadMutation(file)` mutation echoing the uploaded content.
func NewUploadSchema() *graphql.Schema {
	return graphql.MustParseSchema(uploadSchema, &uploadResolver{})
}

// NewUploadService serves the upload schema.
func NewUploadService(opts ...graphqlapp.HandlerOpt) *httptest.Server {
	return httptest.NewServer(graphqlapp.NewHandler(NewUploadSchema(), opts...))
}
