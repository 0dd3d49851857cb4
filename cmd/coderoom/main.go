package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "coderoom",
	Short: "coderoom - collaborative sandboxed code execution",
	Long: `coderoom runs user-submitted code in isolated Docker sandboxes and
coordinates real-time rooms with presence, signaling and chat.

Start a server with "coderoom serve", then run code against it with
"coderoom run".`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
