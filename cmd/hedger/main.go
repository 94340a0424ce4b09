// hedger monitors spot and option exposure and recommends hedges.
package main

import (
	"os"

	"github.com/fatih/color"

	"spot-hedger/internal/cli"
)

func main() {
	rootCmd := cli.NewRootCmd(os.Stderr)
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
