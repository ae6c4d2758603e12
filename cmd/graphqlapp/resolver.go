package main

import (
	_ "embed"

	"github.com/graph-gophers/graphql-go"
	"github.com/movio/graphqlapp"
)

//go:embed schema.graphql
var schema string

type uploadResult struct {
	Success  bool
	Filename string
	Size     int32
	Content  string
}

type resolver struct{}

func (*resolver) Hello(args struct{ Name string }) string {
	return "Hello " + args.Name
}

func (*resolver) UploadMutation(args struct{ File graphqlapp.Upload }) *uploadResult {
	return &uploadResult{
		Success:  true,
		Filename: args.File.Filename,
		Size:     int32(args.File.Size),
		Content:  string(args.File.Content),
	}
}

func newSchema() *graphql.Schema {
	return graphql.MustParseSchema(schema, &resolver{}, graphql.UseFieldResolvers())
}
