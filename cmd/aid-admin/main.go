// Command aid-admin manages Aid's encoder registry out-of-band from the
// Aid API, which never exposes encoder registration or activation.
package main

import (
	"fmt"
	"os"

	"github.com/aidfleet/aid/internal/cli"
)

func main() {
	if err := cli.BuildAdminCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
