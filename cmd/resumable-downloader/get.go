package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/domain/event"
	"github.com/vertextoedge/resumable-downloader/internal/logger"
	"github.com/vertextoedge/resumable-downloader/internal/service/coordinator"
)

type getOptions struct {
	id           string
	headers      map[string]string
	maxRedirects int
	bulk         bool
}

func newGetCommand() *cobra.Command {
	opts := &getOptions{}
	cmd := &cobra.Command{
		Use:   "get <url> [destination]",
		Short: "Download one file in the foreground",
		Long: "Download one file in the foreground. Interrupting pauses the transfer; " +
			"running the command again with the same --id resumes it.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := ""
			if len(args) == 2 {
				dest = args[1]
			}
			return runGet(cmd, args[0], dest, opts)
		},
	}
	cmd.Flags().StringVar(&opts.id, "id", "", "Transfer id (generated when empty)")
	cmd.Flags().StringToStringVarP(&opts.headers, "header", "H", nil, "Request header as name=value")
	cmd.Flags().IntVar(&opts.maxRedirects, "resolve-redirects", 0, "Resolve up to this many redirects before starting")
	cmd.Flags().BoolVar(&opts.bulk, "bulk", false, "Use the bulk facility (cannot be paused)")
	return cmd
}

// defaultDestination names the file after the last URL path segment
func defaultDestination(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}

// progressLine renders one progress update for the terminal
func progressLine(u domain.ProgressUpdate) string {
	if !domain.IsTotalKnown(u.BytesTotal) {
		return fmt.Sprintf("%s downloaded", humanize.IBytes(uint64(u.BytesDownloaded)))
	}
	pct := float64(u.BytesDownloaded) * 100 / float64(u.BytesTotal)
	return fmt.Sprintf("%s / %s (%.1f%%)",
		humanize.IBytes(uint64(u.BytesDownloaded)),
		humanize.IBytes(uint64(u.BytesTotal)),
		pct)
}

func runGet(cmd *cobra.Command, rawURL, dest string, opts *getOptions) error {
	cfg, zapLogger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	id := opts.id
	if id == "" {
		id = ksuid.New().String()
	}
	if dest == "" {
		dest = defaultDestination(rawURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEngine(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	e.dispatcher.Subscribe(&event.HandlerFunc{
		Names: []string{event.NameTransferBegan, event.NameTransferProgress, event.NameTransferCompleted, event.NameTransferFailed},
		Fn: func(ev event.DomainEvent) {
			switch ev := ev.(type) {
			case event.TransferBegan:
				if ev.ID == id && domain.IsTotalKnown(ev.ExpectedBytes) {
					fmt.Fprintf(out, "downloading %s\n", humanize.IBytes(uint64(ev.ExpectedBytes)))
				}
			case event.TransferProgress:
				for _, u := range ev.Updates {
					if u.ID == id {
						fmt.Fprintf(out, "\r%s", progressLine(u))
					}
				}
			case event.TransferCompleted:
				if ev.ID == id {
					fmt.Fprintf(out, "\nsaved %s (%s)\n", ev.Location, humanize.IBytes(uint64(ev.BytesDownloaded)))
					finish(nil)
				}
			case event.TransferFailed:
				if ev.ID == id {
					finish(fmt.Errorf("transfer failed (code %d): %s", ev.Code, ev.Message))
				}
			}
		},
	})

	if _, err := e.coordinator.Restore(ctx); err != nil {
		zapLogger.Warn("failed to restore transfers", zap.Error(err))
	}
	e.run(ctx)

	if e.coordinator.State(id) == domain.StatePaused {
		fmt.Fprintf(out, "resuming %s\n", id)
		e.coordinator.Resume(id)
	} else {
		err := e.coordinator.Start(ctx, coordinator.StartRequest{
			ID:           id,
			URL:          rawURL,
			Destination:  dest,
			Headers:      opts.headers,
			MaxRedirects: opts.maxRedirects,
			Bulk:         opts.bulk,
		})
		if err != nil {
			e.close()
			return err
		}
		fmt.Fprintf(out, "started %s\n", id)
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		fmt.Fprintf(out, "\ninterrupted; run again with --id %s to resume\n", id)
	}
	e.close()
	return err
}
