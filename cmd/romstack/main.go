// romstack is the ROM ingestion and catalog server.
package main

import (
	"fmt"
	"os"

	"github.com/romstack/romstack/cmd/romstack/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
