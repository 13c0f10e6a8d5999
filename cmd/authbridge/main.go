package main

import (
	"fmt"
	"os"

	"authbridge/cmd/authbridge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
