// Package attach opens an interactive PTY session onto a running
// supervised container, for an operator investigating why a step is
// deferred or stuck. It never participates in the planner's step
// vocabulary; it's a side door for humans, exercised only on request.
package attach

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/moby/term"
)

// Options configures an attach session.
type Options struct {
	// ContainerName is the engine-assigned name of the running container
	// (see model.Service.ContainerName — "<appId>_<serviceName>").
	ContainerName string
	// Shell is the command run inside the container, e.g. "/bin/sh".
	Shell string
}

// Run opens a PTY, execs `docker exec -it <container> <shell>` under it,
// and streams the session to stdin/stdout until the remote shell exits or
// ctx is cancelled. The local terminal is put into raw mode for the
// duration so keystrokes (Ctrl-C, Ctrl-D, etc.) pass through to the
// container's shell instead of being interpreted locally. It blocks until
// the session ends.
func Run(ctx context.Context, opts Options) error {
	if opts.ContainerName == "" {
		return fmt.Errorf("attach: container name required")
	}
	shell := opts.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, "docker", "exec", "-it", opts.ContainerName, shell)
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return fmt.Errorf("attach: start pty: %w", err)
	}
	defer ptmx.Close()

	stdinFd := os.Stdin.Fd()
	if term.IsTerminal(stdinFd) {
		state, err := term.SetRawTerminal(stdinFd)
		if err == nil {
			defer term.RestoreTerminal(stdinFd, state) //nolint:errcheck
		}
	}

	sizeCh := make(chan os.Signal, 1)
	signal.Notify(sizeCh, syscall.SIGWINCH)
	defer signal.Stop(sizeCh)
	go func() {
		for range sizeCh {
			resizeToStdout(ptmx)
		}
	}()
	resizeToStdout(ptmx)

	go io.Copy(ptmx, os.Stdin)
	outErr := make(chan error, 1)
	go func() {
		_, err := io.Copy(os.Stdout, ptmx)
		outErr <- err
	}()

	waitErr := cmd.Wait()
	<-outErr

	if waitErr != nil {
		return fmt.Errorf("attach: docker exec: %w", waitErr)
	}
	return nil
}

// resizeToStdout matches the PTY's window size to the local stdout, best
// effort — a failure here just means the remote shell keeps its last size.
func resizeToStdout(ptmx *os.File) {
	ws, err := term.GetWinsize(os.Stdout.Fd())
	if err != nil {
		return
	}
	pty.Setsize(ptmx, &pty.Winsize{Rows: ws.Height, Cols: ws.Width})
}
