// Command hwcsim replays display composition scenarios against a
// simulated display device.
package main

import (
	"fmt"
	"os"

	"github.com/gogpu/hwc/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
