package main

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/master"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config       string `long:"config" short:"c" description:"Ecosystem file (.yaml, .yml or .json)" required:"true"`
	Env          string `long:"env" description:"Environment profile, selects env_<name> of every app"`
	RunDuration  int    `long:"run-duration" description:"Duration in seconds to run the daemon (debug feature)"`
	APIAddress   string `long:"api-address" description:"Control API listen address, overrides master.api_address"`
	GRPCPort     int    `long:"grpc-port" description:"gRPC control port, overrides master.grpc_port"`
	LogLevel     string `long:"log-level" description:"Log level, overrides master.log_level" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	LogFormat    string `long:"log-format" description:"Log format, overrides master.log_format" choice:"console" choice:"json"`
	ValidateOnly bool   `long:"validate-only" description:"Validate the ecosystem file and exit"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-ecosystemd , ", module)
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

	if opts.ValidateOnly {
		if err := master.ValidateConfigFile(opts.Config); err != nil {
			fmt.Printf("Ecosystem file is invalid: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Ecosystem file %s is valid\n", opts.Config)
		return
	}

	config, err := master.LoadConfigFromFile(opts.Config)
	if err != nil {
		fmt.Printf("Failed to load ecosystem file: %v\n", err)
		os.Exit(1)
	}
	if opts.LogLevel != "" {
		config.Master.LogLevel = opts.LogLevel
	}
	if opts.LogFormat != "" {
		config.Master.LogFormat = opts.LogFormat
	}

	level, err := logcollection.ParseLogLevel(config.Master.LogLevel)
	if err != nil {
		fmt.Printf("Invalid log level: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logcollection.DefaultLoggerConfig()
	loggerConfig.Level = level
	loggerConfig.Format = config.Master.LogFormat
	structuredLogger, err := logcollection.NewStructuredLoggerWithConfig(loggerConfig)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	if syncer, ok := structuredLogger.(interface{ Sync() error }); ok {
		defer syncer.Sync()
	}

	logger := logging.WithPrefix(logcollection.AsLogger(structuredLogger), logPrefix("hsu"))

	logger.Infof("Running ecosystem daemon, opts: %+v...", opts)

	runOptions := master.RunOptions{
		Profile:          opts.Env,
		RunDuration:      time.Duration(opts.RunDuration) * time.Second,
		APIAddress:       opts.APIAddress,
		GRPCPort:         opts.GRPCPort,
		StructuredLogger: structuredLogger,
	}

	if err := master.RunWithConfig(config, runOptions, logger); err != nil {
		logger.Errorf("Ecosystem daemon failed: %v", err)
		if syncer, ok := structuredLogger.(interface{ Sync() error }); ok {
			_ = syncer.Sync()
		}
		os.Exit(1)
	}

	logger.Infof("Ecosystem daemon stopped")
}
