package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/phil-mansfield/stitch/lib"
	g_error "github.com/phil-mansfield/stitch/lib/error"
)

func main() {
	// Parse arguements.
	mode, configFile, overrides, err := lib.ParseCommandLine(os.Args[1:])
	if err != nil { lib.Fail(err) }

	if mode == lib.HelpMode {
		lib.PrintHelp(os.Stdout)
		return
	}

	rawArgs, err := lib.ParseConfigFile(configFile)
	if err != nil { lib.Fail(err) }
	if err := rawArgs.Overwrite(overrides); err != nil { lib.Fail(err) }

	// Do processing that doesn't need external validation.
	args, err := rawArgs.Process()
	if err != nil { lib.Fail(err) }

	logger := lib.NewLogger(args.LogLevel, os.Stderr)
	g_error.Logger = logger

	args.Threads, err = lib.SetThreads(args.Threads)
	if err != nil { lib.Fail(err) }

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Run the chosen mode.
	switch mode {
	case lib.CheckMode:
		err = lib.Check(args, lib.WarnOnError, logger)
		if err == nil { fmt.Println("No errors detected.") }
	case lib.MergeMode:
		err = lib.Merge(ctx, args, logger)
	case lib.InspectMode:
		err = lib.Inspect(args, os.Stdout)
	case lib.PackMode:
		err = lib.Pack(args, logger)
	}

	if err != nil { lib.Fail(err) }
}
