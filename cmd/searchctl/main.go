// Command searchctl administers index data directories directly, without a
// running searchd.
package main

import (
	"os"

	"github.com/Adithya-Monish-Kumar-K/docsearch/cmd/searchctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
