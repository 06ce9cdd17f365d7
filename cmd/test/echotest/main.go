package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	RunDuration int    `long:"run-duration" description:"Duration in seconds to run before exiting (debug feature)"`
	MemoryMB    int    `long:"memory-mb" description:"Memory in Megabytes to allocate and hold (debug feature)"`
	ExitCode    int    `long:"exit-code" description:"Exit code to use when the run duration elapses"`
	Interval    int    `long:"interval" description:"Interval in milliseconds between echo lines, zero disables" default:"1000"`
	Message     string `long:"message" description:"Message echoed to stdout" default:"echo"`
	Stderr      string `long:"stderr" description:"Message echoed to stderr next to every stdout line"`
	IgnoreTerm  bool   `long:"ignore-term" description:"Keep running after SIGTERM, to exercise forced kills"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running Echotest, pid: %d, opts: %+v...\n", os.Getpid(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if opts.RunDuration > 0 {
		fmt.Printf("Using RUN DURATION of %d seconds\n", opts.RunDuration)
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	var s []byte
	if opts.MemoryMB > 0 {
		fmt.Printf("Using MEMORY MB of %d Megabytes\n", opts.MemoryMB)
		s = make([]byte, opts.MemoryMB*1024*1024)
	}
	// Touch every page so the allocation shows up in RSS
	for i := 0; i < len(s); i += 4096 {
		s[i] = 1
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	var ticker <-chan time.Time
	if opts.Interval > 0 {
		t := time.NewTicker(time.Duration(opts.Interval) * time.Millisecond)
		defer t.Stop()
		ticker = t.C
	}

	fmt.Printf("Echotest is fully operational\n")

	for count := 1; ; count++ {
		select {
		case receivedSignal := <-sig:
			fmt.Printf("Echotest received signal: %v\n", receivedSignal)
			if opts.IgnoreTerm && receivedSignal == syscall.SIGTERM {
				fmt.Printf("Echotest ignores %v\n", receivedSignal)
				continue
			}
			fmt.Printf("Echotest stopped\n")
			return
		case <-ticker:
			fmt.Printf("%s %d\n", opts.Message, count)
			if opts.Stderr != "" {
				fmt.Fprintf(os.Stderr, "%s %d\n", opts.Stderr, count)
			}
		case <-ctx.Done():
			fmt.Printf("Echotest finished, exit code: %d\n", opts.ExitCode)
			runtime.KeepAlive(s)
			os.Exit(opts.ExitCode)
		}
	}
}
