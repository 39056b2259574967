package main

import (
	"os"

	"github.com/esmerge/esmerge/pkg/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
