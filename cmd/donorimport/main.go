// Command donorimport uploads a donor file to a running server and follows
// the import until it ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"donorflow/client"
	"donorflow/services/progress"
)

const (
	exitOK        = 0
	exitFailed    = 1
	exitWarnings  = 2
	exitCancelled = 3
	exitAbandoned = 4
)

func main() {
	server := flag.String("server", envOr("DONORFLOW_SERVER", "http://localhost:5000"), "server base URL")
	token := flag.String("token", os.Getenv("DONORFLOW_TOKEN"), "bearer token")
	file := flag.String("file", "", "CSV, XLS or XLSX donor file")
	interval := flag.Duration("interval", 2*time.Second, "progress poll interval")
	maxAttempts := flag.Int("max-attempts", 300, "polls before giving up")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *file == "" || *token == "" {
		flag.Usage()
		os.Exit(exitFailed)
	}

	os.Exit(run(log, client.NewClient(*server, *token), *file, *interval, *maxAttempts))
}

func run(log *logrus.Logger, c *client.Client, file string, interval time.Duration, maxAttempts int) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id, err := c.SubmitImport(ctx, file)
	if err != nil {
		log.WithError(err).Error("Upload rejected")
		return exitFailed
	}
	log.WithField("operation_id", id).Info("Import started")

	lastProgress := -1
	op, err := progress.Poll(ctx, c, id, progress.PollOptions{
		Interval:    interval,
		MaxAttempts: maxAttempts,
		OnUpdate: func(op *progress.Operation) {
			if op.Progress != lastProgress {
				lastProgress = op.Progress
				fmt.Printf("%3d%%  %s\n", op.Progress, op.Message)
			}
		},
	})

	switch {
	case errors.Is(err, context.Canceled):
		// Interrupted locally: ask the server to stop too
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := c.CancelImport(cancelCtx, id); cerr != nil {
			log.WithError(cerr).Warn("Cancel request failed")
		}
		fmt.Println("Import cancelled at your request.")
		return exitCancelled
	case errors.Is(err, progress.ErrPollAbandoned):
		fmt.Printf("Import %s did not finish in time and may still be running. Manual check required.\n", id)
		return exitAbandoned
	case errors.Is(err, progress.ErrNotFound):
		fmt.Printf("Import %s is no longer known to the server. Manual check required.\n", id)
		return exitAbandoned
	case err != nil:
		log.WithError(err).Error("Polling failed")
		return exitFailed
	}

	return report(op)
}

func report(op *progress.Operation) int {
	r := op.Result
	if r == nil {
		r = &progress.Result{}
	}

	switch op.Status {
	case progress.StatusError:
		fmt.Printf("Import failed: %s\n", op.Message)
		fmt.Printf("Rows stored before the failure: %d created, %d updated.\n", r.Created, r.Updated)
		return exitFailed
	case progress.StatusCancelled:
		fmt.Printf("Import cancelled: %s\n", op.Message)
		return exitCancelled
	}

	fmt.Printf("Created: %d  Updated: %d  Skipped: %d  Errors: %d\n", r.Created, r.Updated, r.Skipped, r.Errors)
	if !r.HasWarnings() {
		fmt.Println("Import complete.")
		return exitOK
	}

	fmt.Printf("Import complete with %d rejected rows:\n", len(r.RowErrors))
	for _, rowErr := range r.RowErrors {
		fmt.Printf("  row %d (%s): %s\n", rowErr.Row, rowErr.Kind, rowErr.Message)
	}
	return exitWarnings
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
