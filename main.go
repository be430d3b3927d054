package main

import (
	"os"

	"github.com/veilart/gallery/cmd"
)

func main() {
	if addr := os.Getenv("VEILART_COVERAGE_ADDR"); addr != "" {
		startCoverageServer(addr)
	}
	cmd.Execute()
}
