// shellrelay attaches the local terminal to a shell served by
// shellrelay-agent over a publish/subscribe broker.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/opensandbox/shellrelay/cmd/controller/cmd"
)

func main() {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
