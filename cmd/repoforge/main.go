package main

import (
	"os"

	"github.com/YoshitsuguKoike/repoforge/internal/interface/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
