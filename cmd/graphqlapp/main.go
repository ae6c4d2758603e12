package main

import (
	"github.com/movio/graphqlapp"
	_ "github.com/movio/graphqlapp/plugins"
)

func main() {
	graphqlapp.Main(newSchema())
}
