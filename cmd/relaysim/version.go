package main

import "fmt"

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0" ./cmd/relaysim/
var version = "dev"

// VersionCmd prints the build version.
type VersionCmd struct {
	root *Options
}

func (c *VersionCmd) Execute(_ []string) error {
	fmt.Fprintf(c.root.stdout, "relaysim %s\n", version)
	return nil
}
