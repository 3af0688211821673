// Package cmd contains the kedo CLI's commands.
package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	successPrint = color.New(color.FgGreen, color.Bold).PrintfFunc()
	errorPrint   = color.New(color.FgRed, color.Bold).PrintfFunc()
	infoPrint    = color.New(color.FgCyan).PrintfFunc()
	dimPrint     = color.New(color.Faint).PrintfFunc()
)

var rootCmd = &cobra.Command{
	Use:   "kedo",
	Short: "kedo runs JavaScript scripts on an embedded event-loop runtime",
	Long: `kedo embeds a V8 isolate behind a single-threaded cooperative
event loop: a job queue, a timer queue, channel-backed streams, and an
HTTP client/server built on the same transport.

Example:
  kedo run script.js`,
}

// Execute adds all child commands to the root command and runs it. It
// is called once by main.main.
func Execute() error {
	return rootCmd.Execute()
}

func printSuccess(format string, a ...interface{}) { successPrint("✓ "+format+"\n", a...) }
func printError(format string, a ...interface{})   { errorPrint("✗ "+format+"\n", a...) }
func printInfo(format string, a ...interface{})     { infoPrint("→ "+format+"\n", a...) }

func fatal(format string, a ...interface{}) {
	printError(format, a...)
	os.Exit(1)
}

func checkError(err error, context string) {
	if err != nil {
		fatal("%s: %v", context, err)
	}
}
