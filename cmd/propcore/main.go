// Package main is the single-binary entrypoint for propcore.
package main

import "github.com/a1betting/propcore/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
