// Command pluginhost manages a plugin runtime from the terminal:
// discovery, loading, inspection, invocation, and source vetting.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
