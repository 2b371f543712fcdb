package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wiring := defaultCommandWiring(os.Stdout, os.Stderr)
	root := buildRootCommand(wiring)
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		label := "dilag"
		if cmd, _, findErr := root.Find(os.Args[1:]); findErr == nil && cmd != root {
			label = cmd.Name()
		}
		stop()
		exitOnErr(label, err, wiring.stderr)
	}
}
