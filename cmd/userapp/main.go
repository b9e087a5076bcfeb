package main

import (
	"flag"

	"github.com/robotalks/userapp/pkg/env"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	env.Default().MustNewApp().Run()
}
