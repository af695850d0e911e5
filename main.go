package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"
	"github.com/coder/quartz"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"en-sniffer.klederson.com/internal/app"
	"en-sniffer.klederson.com/internal/beacon"
	"en-sniffer.klederson.com/internal/config"
	"en-sniffer.klederson.com/internal/feed"
	"en-sniffer.klederson.com/internal/sighting"
	"en-sniffer.klederson.com/internal/sink"
	"en-sniffer.klederson.com/internal/ui"
)

var (
	flagOut      string
	flagVerbose  bool
	flagQuiet    bool
	flagLocation string
	flagDevices  int
	flagDuration time.Duration
	flagSeed     int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "en-sniffer",
		Short: "EN Sniffer - aggregate Exposure Notification beacon sightings",
		Long: `EN Sniffer folds batches of Exposure Notification beacon observations
into one entry per rolling proximity identifier, tags them with the last
known location and writes one JSON record per device when it goes stale
(11 minutes unseen) or when the session ends.

Use "replay" to process a recorded JSON Lines feed, or "demo" to watch
simulated phones without any Bluetooth hardware.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagOut, "out", "-", "File to append JSON Lines records to (- for stdout)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging, including every created record")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Do not print the session summary")
	rootCmd.PersistentFlags().StringVar(&flagLocation, "location", "", "Initial location as lat,lon[,accuracy]")

	replayCmd := &cobra.Command{
		Use:   "replay [file]",
		Short: "Replay a recorded JSON Lines feed (stdin if no file or -)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runReplay,
	}

	demoCmd := &cobra.Command{
		Use:   "demo",
		Short: "Run with simulated phones (no Bluetooth required)",
		Args:  cobra.NoArgs,
		RunE:  runDemo,
	}
	demoCmd.Flags().IntVar(&flagDevices, "devices", 0, fmt.Sprintf("Number of simulated phones (default random %d-%d)", config.DemoDeviceMin, config.DemoDeviceMax))
	demoCmd.Flags().DurationVar(&flagDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
	demoCmd.Flags().Int64Var(&flagSeed, "seed", 0, "Random seed (0 uses the current time)")

	rootCmd.AddCommand(replayCmd, demoCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runReplay(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return xerrors.Errorf("open feed: %w", err)
		}
		defer f.Close()
		in = f
	}

	return session(cmd, func(logger slog.Logger) (feed.Source, error) {
		return feed.NewReplay(in, logger.Named("replay")), nil
	})
}

func runDemo(cmd *cobra.Command, _ []string) error {
	seed := flagSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	n := flagDevices
	if n <= 0 {
		n = config.DemoDeviceMin + rng.Intn(config.DemoDeviceMax-config.DemoDeviceMin+1)
	}

	if flagDuration > 0 {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagDuration)
		defer cancel()
		cmd.SetContext(ctx)
	}

	return session(cmd, func(logger slog.Logger) (feed.Source, error) {
		base := beacon.Location{Latitude: 52.520008, Longitude: 13.404954, Accuracy: 15}
		if flagLocation != "" {
			loc, err := beacon.ParseLocation(flagLocation)
			if err != nil {
				return nil, err
			}
			base = loc
		}
		logger.Info(cmd.Context(), "starting demo", slog.F("phones", n), slog.F("seed", seed))
		return feed.NewMock(quartz.NewReal(), logger.Named("mock"), rng, n, base), nil
	})
}

// session wires logger, sinks and table, then runs the source to completion.
func session(cmd *cobra.Command, newSource func(slog.Logger) (feed.Source, error)) error {
	ctx := cmd.Context()

	logger := slog.Make(sloghuman.Sink(cmd.ErrOrStderr()))
	if flagVerbose {
		logger = logger.Leveled(slog.LevelDebug)
	}

	out := cmd.OutOrStdout()
	if flagOut != "" && flagOut != "-" {
		f, err := os.OpenFile(flagOut, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return xerrors.Errorf("open output: %w", err)
		}
		defer f.Close()
		out = f
	}

	events := []sighting.Event{sighting.EventEvicted, sighting.EventFlushed}
	var records sighting.Sink = sink.NewWriter(out, logger.Named("writer"), events...)
	if flagVerbose {
		records = sink.Multi{records, sink.NewLog(logger.Named("sighting"))}
	}

	model := app.New(quartz.NewReal(), records, logger)
	if flagLocation != "" {
		loc, err := beacon.ParseLocation(flagLocation)
		if err != nil {
			return xerrors.Errorf("--location: %w", err)
		}
		model.Table().SetLocation(&loc)
	}

	src, err := newSource(logger)
	if err != nil {
		return err
	}

	summary, err := app.Run(ctx, model, src)
	if !flagQuiet {
		fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderSummary(summary, 48))
	}
	if err != nil {
		return xerrors.Errorf("run: %w", err)
	}
	return nil
}
