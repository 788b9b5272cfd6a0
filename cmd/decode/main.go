// Command decode is the CLI front end for the lattice decoder: it runs a
// fixed acoustic sequence against a flattened WFST, serves a decode over
// HTTP, or reports statistics about an ARPA language model.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
