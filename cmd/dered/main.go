// Command dered runs the daemon: every background subsystem, the agent
// session service, and the HTTP/WS facade in one process. The subcommand
// dispatch and signal.NotifyContext-driven graceful shutdown generalize
// a single long-running "serve" command into dered's required
// start/stop/status/restart/config set.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = startCmd(os.Args[2:])
	case "stop":
		err = stopCmd()
	case "status":
		err = statusCmd()
	case "restart":
		err = restartCmd(os.Args[2:])
	case "config":
		err = configCmd()
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "dered: unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "dered: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: dered <command>

commands:
  start     run the daemon in the foreground
  stop      signal a running daemon to shut down
  status    report whether a daemon is running
  restart   stop then start the daemon
  config    print the configuration that would be loaded

environment variables: see internal/config.Load`)
}
