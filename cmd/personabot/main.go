package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/workglows/personabot/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "personabot",
	Short: "Character persona chat relay for Telegram",
	Long:  "personabot relays Telegram chats to a language model behind a configurable character persona.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay loop",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetInfo())
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
