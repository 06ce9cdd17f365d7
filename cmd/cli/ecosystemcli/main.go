package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/control"
	"github.com/core-tools/hsu-ecosystem/pkg/domain"
	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/master"

	coreControl "github.com/core-tools/hsu-core/pkg/control"
	coreDomain "github.com/core-tools/hsu-core/pkg/domain"
	coreLogging "github.com/core-tools/hsu-core/pkg/logging"

	"github.com/docker/go-units"
	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Server   string `long:"server" short:"s" description:"Control API base URL of the ecosystem daemon" default:"http://127.0.0.1:9615"`
	GRPCPort int    `long:"grpc-port" description:"Talk gRPC to the daemon on this local port instead of HTTP"`
	Timeout  int    `long:"timeout" description:"Request timeout in seconds" default:"60"`
	Verbose  bool   `long:"verbose" short:"v" description:"Log requests to stdout"`
}

var opts flagOptions

type configFileArgs struct {
	File string `positional-arg-name:"file" required:"yes"`
}

type appArgs struct {
	Name string `positional-arg-name:"app" required:"yes"`
}

type validateCommand struct {
	Args configFileArgs `positional-args:"yes"`
}

func (c *validateCommand) Execute(args []string) error {
	if err := master.ValidateConfigFile(c.Args.File); err != nil {
		return err
	}
	fmt.Printf("Ecosystem file %s is valid\n", c.Args.File)
	return nil
}

type summaryCommand struct {
	Args configFileArgs `positional-args:"yes"`
}

func (c *summaryCommand) Execute(args []string) error {
	config, err := master.LoadConfigFromFile(c.Args.File)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, master.GetConfigSummary(config))
}

type statusCommand struct {
	JSON bool `long:"json" description:"Print raw JSON"`
	Args struct {
		Name string `positional-arg-name:"app"`
	} `positional-args:"yes"`
}

func (c *statusCommand) Execute(args []string) error {
	return withGateway(func(ctx context.Context, gateway domain.Contract) error {
		var apps []domain.AppStatus
		if c.Args.Name != "" {
			app, err := gateway.GetApp(ctx, c.Args.Name)
			if err != nil {
				return err
			}
			apps = append(apps, *app)
		} else {
			state, err := gateway.Status(ctx)
			if err != nil {
				return err
			}
			if !c.JSON {
				fmt.Printf("Master: %s\n", state)
			}
			apps, err = gateway.ListApps(ctx)
			if err != nil {
				return err
			}
		}

		if c.JSON {
			return printJSON(os.Stdout, apps)
		}
		printStatusTable(os.Stdout, apps, time.Now())
		return nil
	})
}

type startCommand struct {
	Args appArgs `positional-args:"yes"`
}

func (c *startCommand) Execute(args []string) error {
	return withGateway(func(ctx context.Context, gateway domain.Contract) error {
		if err := gateway.StartApp(ctx, c.Args.Name); err != nil {
			return err
		}
		fmt.Printf("App %s started\n", c.Args.Name)
		return nil
	})
}

type stopCommand struct {
	Args appArgs `positional-args:"yes"`
}

func (c *stopCommand) Execute(args []string) error {
	return withGateway(func(ctx context.Context, gateway domain.Contract) error {
		if err := gateway.StopApp(ctx, c.Args.Name); err != nil {
			return err
		}
		fmt.Printf("App %s stopped\n", c.Args.Name)
		return nil
	})
}

type restartCommand struct {
	Force bool    `long:"force" short:"f" description:"Restart even if the app gave up after unstable restarts"`
	Args  appArgs `positional-args:"yes"`
}

func (c *restartCommand) Execute(args []string) error {
	return withGateway(func(ctx context.Context, gateway domain.Contract) error {
		if err := gateway.RestartApp(ctx, c.Args.Name, c.Force); err != nil {
			return err
		}
		fmt.Printf("App %s restarted\n", c.Args.Name)
		return nil
	})
}

func withGateway(fn func(ctx context.Context, gateway domain.Contract) error) error {
	var logger logging.Logger = logging.NewNopLogger()
	if opts.Verbose {
		logger = logging.NewLogger("module: hsu-ecosystemcli , ", logging.LogFuncs{
			Debugf: printfln,
			Infof:  printfln,
			Warnf:  printfln,
			Errorf: printfln,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(opts.Timeout)*time.Second)
	defer cancel()

	if opts.GRPCPort == 0 {
		return fn(ctx, control.NewHTTPClientGateway(opts.Server, logger))
	}

	coreLogger := coreLogging.NewLogger("module: hsu-core-ecosystemcli , ", coreLogging.LogFuncs{
		Debugf: logger.Debugf,
		Infof:  logger.Infof,
		Warnf:  logger.Warnf,
		Errorf: logger.Errorf,
	})
	coreConnection, err := coreControl.NewConnection(coreControl.ConnectionOptions{AttachPort: opts.GRPCPort}, coreLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to port %d: %w", opts.GRPCPort, err)
	}

	retryPingOptions := coreDomain.RetryPingOptions{
		RetryAttempts: 10,
		RetryInterval: 500 * time.Millisecond,
	}
	if err := coreDomain.RetryPing(ctx, coreControl.NewGRPCClientGateway(coreConnection.GRPC(), coreLogger), retryPingOptions, coreLogger); err != nil {
		return fmt.Errorf("daemon on port %d does not answer: %w", opts.GRPCPort, err)
	}

	return fn(ctx, control.NewGRPCClientGateway(coreConnection.GRPC(), logger))
}

func printfln(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}

func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printStatusTable(w io.Writer, apps []domain.AppStatus, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tPID\tUPTIME\tRESTARTS\tMEMORY\tCPU\tLAST ERROR")
	for i := range apps {
		app := &apps[i]

		pid, uptime := "-", "-"
		if app.PID > 0 {
			pid = strconv.Itoa(app.PID)
			uptime = units.HumanDuration(app.Uptime(now))
		}

		memory := "-"
		if app.MemoryRSS > 0 {
			memory = ecosystem.FormatMemory(app.MemoryRSS)
			if app.MemoryLimit > 0 {
				memory += " / " + ecosystem.FormatMemory(app.MemoryLimit)
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%.1f%%\t%s\n",
			app.Name, app.State, pid, uptime, app.Restarts, memory, app.CPUPercent, app.LastError)
	}
	tw.Flush()
}

func main() {
	var parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

	parser.AddCommand("validate", "Validate an ecosystem file", "Loads and validates an ecosystem file without starting anything.", &validateCommand{})
	parser.AddCommand("summary", "Summarize an ecosystem file", "Prints the resolved app settings of an ecosystem file as JSON.", &summaryCommand{})
	parser.AddCommand("status", "Show app status", "Shows the state of every app, or of the named app, of a running daemon.", &statusCommand{})
	parser.AddCommand("start", "Start an app", "Starts a stopped app of a running daemon.", &startCommand{})
	parser.AddCommand("stop", "Stop an app", "Stops an app of a running daemon.", &stopCommand{})
	parser.AddCommand("restart", "Restart an app", "Restarts an app of a running daemon.", &restartCommand{})

	var argv []string = os.Args[1:]
	_, err := parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			return
		}
		fmt.Printf("Command failed: %v\n", err)
		os.Exit(1)
	}
}
