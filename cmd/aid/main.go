// Command aid runs the Aid fallback dispatch daemon.
package main

import (
	"fmt"
	"os"

	"github.com/aidfleet/aid/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
