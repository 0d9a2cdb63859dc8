package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, connect).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
