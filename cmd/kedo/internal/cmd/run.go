package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	v8 "github.com/tommie/v8go"

	"github.com/kedojs/kedo/internal/engine"
	"github.com/kedojs/kedo/internal/ops"
)

var runTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run <script.js>",
	Short: "Run a script to quiescence on the event-loop runtime",
	Long: `Loads script.js into a fresh V8 isolate, installs the op_*
binding surface, evaluates the script, and drives the runtime loop
(timers -> job queue -> FIFO jobs) until both queues are empty.`,
	Args: cobra.ExactArgs(1),
	Run:  runScript,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 30*time.Second, "maximum wall-clock time before aborting the run")
	rootCmd.AddCommand(runCmd)
}

func runScript(cmd *cobra.Command, args []string) {
	path := args[0]
	source, err := os.ReadFile(path)
	checkError(err, "reading script")

	eng, err := engine.New()
	checkError(err, "creating engine")
	defer eng.Dispose()

	eng.UncaughtException = func(err error) { printError("uncaught exception: %v", err) }
	eng.UnhandledRejection = func(reason *v8.Value) { printError("unhandled promise rejection: %s", reason.String()) }

	if _, err := ops.Install(eng); err != nil {
		fatal("installing op_* bindings: %v", err)
	}

	printInfo("running %s", path)

	if err := eng.Eval(string(source)); err != nil {
		fatal("evaluating script: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()
	if err := eng.Loop.Run(ctx); err != nil {
		fatal("event loop: %v", err)
	}

	printSuccess("done")
	fmt.Println()
	dimPrint("  %s\n", path)
}
