// Package main is the entry point for the feedersync service
package main

import (
	"os"

	"github.com/campuskit/feedersync/cmd/feedersync/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
