// Command invsync manages products and invoices offline-first against a
// remote relational store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/invsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
