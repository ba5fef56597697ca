// Command job-watch polls the API until a job finishes or the timeout elapses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/roomflow/internal/reconciler"
	"github.com/cuongbtq/roomflow/shared/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	def := reconciler.DefaultConfig()

	baseURL := flag.String("api", "http://localhost:8080", "API base URL")
	jobID := flag.String("job", "", "Job id to watch")
	ownerID := flag.String("owner", "", "Owner id the job belongs to")
	interval := flag.Duration("interval", def.Interval, "Initial poll interval")
	maxInterval := flag.Duration("max-interval", def.MaxInterval, "Longest poll interval")
	timeout := flag.Duration("timeout", def.Timeout, "Give up after this long")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if *jobID == "" {
		return fmt.Errorf("-job is required")
	}

	appLogger, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: time.Kitchen,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := reconciler.NewHTTPFetcher(*baseURL, *ownerID, &http.Client{Timeout: 10 * time.Second})
	poller := reconciler.NewPoller(fetcher, reconciler.Config{
		Interval:    *interval,
		MaxInterval: *maxInterval,
		Multiplier:  def.Multiplier,
		Timeout:     *timeout,
	}, appLogger.Logger)

	res, err := poller.Wait(ctx, *jobID)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"job_id":           res.JobID,
		"status":           res.Status,
		"result_ref":       res.ResultRef,
		"terminal":         res.Terminal,
		"still_processing": res.StillProcessing,
		"attempts":         res.Attempts,
	})
}
