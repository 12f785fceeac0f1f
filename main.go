package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"quictransport/cmd/client"
	"quictransport/infrastructure/logging"
)

const (
	PackageName = "quictransport"
	defaultPort = 443
	defaultPath = "/"
)

func main() {
	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupt received. Shutting down...")
		appCtxCancel()
	}()

	host, port, path := parseArgs()

	logger := logging.NewLogLogger()
	if err := client.Run(appCtx, logger, host, port, path); err != nil {
		fmt.Printf("%s: %v\n", PackageName, err)
		os.Exit(1)
	}
}

// parseArgs reads "host[:port] [path]" from os.Args, falling back to
// an interactive prompt when none were given.
func parseArgs() (string, int, string) {
	var target, path string
	switch {
	case len(os.Args) >= 3:
		target, path = os.Args[1], os.Args[2]
	case len(os.Args) == 2:
		target, path = os.Args[1], defaultPath
	default:
		target, path = promptForTarget(), defaultPath
	}

	host, port := target, defaultPort
	if h, p, ok := strings.Cut(target, ":"); ok {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return host, port, path
}

func promptForTarget() string {
	fmt.Printf("Welcome to %s!\n", PackageName)
	fmt.Print("Server address (host[:port]): ")

	scanner := bufio.NewScanner(os.Stdin)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
