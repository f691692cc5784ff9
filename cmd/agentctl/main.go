// Command agentctl is an on-device CLI companion to agentd. It never
// participates in the reconcile loop; it's an operator tool for poking at
// a running agent from the same host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cfilipov/edged/internal/attach"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "attach":
		runAttach(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: agentctl attach -container <name> [-shell /bin/sh]")
}

func runAttach(args []string) {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	container := fs.String("container", "", "engine container name, e.g. 1_main")
	shell := fs.String("shell", "/bin/sh", "shell to exec inside the container")
	fs.Parse(args)

	if *container == "" {
		fmt.Fprintln(os.Stderr, "agentctl attach: -container is required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := attach.Run(ctx, attach.Options{ContainerName: *container, Shell: *shell}); err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
}
