// Command grainql compiles semantic model queries to SQL.
package main

import (
	"os"

	"github.com/leapstack-labs/grainql/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
