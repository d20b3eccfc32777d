package main

import (
	"os"

	"github.com/cadencehq/cadence/assistantservice"
)

func main() {
	if err := assistantservice.Run(); err != nil {
		os.Exit(1)
	}
}
