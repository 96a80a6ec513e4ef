// Command brokerctl runs schema migrations and enqueues background jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/odyssey-erp/brokerage/cmd/brokerctl/cli"
	"github.com/odyssey-erp/brokerage/internal/app"
)

const usage = `usage:
  brokerctl migrate up | down [steps] | version
  brokerctl jobs trigger -job brokerage:compute|analytics:warmup [-broker N] [-fy N]
  brokerctl jobs stats`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	switch args[0] {
	case "migrate":
		return cli.MigrateCommand(cli.NewMigrator(cfg.PGDSN), args[1:], stdout, stderr)
	case "jobs":
		return jobsCommand(cfg.RedisAddr, args[1:], stdout, stderr)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
}

func jobsCommand(redisAddr string, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}
	jobsCLI := cli.NewJobsCLI(redisAddr)
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		fs := flag.NewFlagSet("trigger", flag.ContinueOnError)
		fs.SetOutput(stderr)
		name := fs.String("job", "", "job type")
		broker := fs.Int64("broker", 0, "broker id, 0 for all")
		fy := fs.Int64("fy", 0, "financial year id, 0 for current")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		info, err := jobsCLI.Trigger(context.Background(), *name, *broker, *fy)
		if err != nil {
			fmt.Fprintf(stderr, "trigger: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			fmt.Fprintf(stderr, "stats: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
	return 0
}
