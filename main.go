package main

import (
	"os"

	"github.com/Nitinref/R8R-sub001/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
