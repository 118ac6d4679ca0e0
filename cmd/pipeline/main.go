package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ACUY-D/MULTI-AGENT-CODE-sub001/internal/cli"
)

var rootCmd = &cobra.Command{Use: "pipeline"}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
