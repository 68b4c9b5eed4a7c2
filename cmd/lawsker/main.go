// Command lawsker serves the Lawsker demo site.
package main

import (
	"os"

	"github.com/lawsker/lawsker/cmd/lawsker/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
