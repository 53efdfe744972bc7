// Command ndgr streams and downloads niconico live comments.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/ndgr"
	"github.com/Kocoro-lab/ndgr/internal/config"
	"github.com/Kocoro-lab/ndgr/internal/tracing"
	"github.com/Kocoro-lab/ndgr/transcript"
)

var version = "dev"

type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client *ndgr.Client
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
		a           app
		shutdown    func(context.Context) error
	)

	root := &cobra.Command{
		Use:           "ndgr",
		Short:         "niconico live comment streamer and archiver",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			a.client = ndgr.New(
				ndgr.WithLogger(logger),
				ndgr.WithQueueSize(cfg.QueueSize),
				ndgr.WithBaseURLs(cfg.WatchBase, cfg.ChannelBase, cfg.CASBase, cfg.AccountBase),
			)

			ctx := cmd.Context()
			if cfg.AliasFile != "" {
				if err := config.WatchAliasFile(ctx, cfg.AliasFile, logger, ndgr.SetChannelAliasMap); err != nil {
					return err
				}
			}
			if shutdown, err = tracing.Initialize(ctx, cfg.OTLPEndpoint, logger); err != nil {
				return err
			}
			if metricsAddr != "" {
				go serveMetrics(metricsAddr, logger)
			}
			if cfg.Mail != "" && cfg.Password != "" {
				if err := a.client.Login(ctx, cfg.Mail, cfg.Password); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if shutdown != nil {
				_ = shutdown(context.Background())
			}
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	root.AddCommand(newStreamCmd(&a), newDownloadCmd(&a), newProgramsCmd(&a), newVersionCmd())
	root.SetContext(signalContext())
	return root
}

func signalContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	var zc zap.Config
	if cfg.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	// Logs go to stderr; stdout carries comments and transcripts.
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}

func serveMetrics(addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", zap.Error(err))
	}
}

func newStreamCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stream <handle>",
		Short: "Stream live comments to stdout as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			stream, err := a.client.StreamComments(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for comment := range stream.Comments() {
				if err := enc.Encode(comment); err != nil {
					return err
				}
			}
			err = stream.Err()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func newDownloadCmd(a *app) *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   "download <handle|all>",
		Short: "Download a program's full comment history as legacy XML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if args[0] != "all" {
				return downloadOne(ctx, a, args[0], outputDir)
			}

			if outputDir == "" {
				return errors.New("download all requires --output-dir")
			}
			aliases := make([]string, 0)
			for alias := range ndgr.ChannelAliasMap() {
				aliases = append(aliases, alias)
			}
			sort.Strings(aliases)

			var failed atomic.Int32
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(2)
			for _, alias := range aliases {
				g.Go(func() error {
					if err := downloadOne(gctx, a, alias, outputDir); err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						a.logger.Warn("download failed", zap.String("handle", alias), zap.Error(err))
						failed.Add(1)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if n := failed.Load(); n > 0 {
				return fmt.Errorf("%d of %d downloads failed", n, len(aliases))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "write <handle>.xml files here instead of stdout")
	return cmd
}

func downloadOne(ctx context.Context, a *app, handle, outputDir string) error {
	comments, err := a.client.DownloadBackwardComments(ctx, handle)
	if err != nil {
		return err
	}
	a.logger.Info("downloaded", zap.String("handle", handle), zap.Int("comments", len(comments)))

	if outputDir == "" {
		return transcript.Write(os.Stdout, comments)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outputDir, handle+".xml"))
	if err != nil {
		return err
	}
	defer f.Close()
	if err := transcript.Write(f, comments); err != nil {
		return err
	}
	return f.Close()
}

func newProgramsCmd(a *app) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "programs <channel>",
		Short: "List a channel's programs on a date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day := time.Now()
			if date != "" {
				var err error
				if day, err = time.ParseInLocation("2006-01-02", date, time.Local); err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			listings, err := a.client.ListProgramsOn(cmd.Context(), args[0], day)
			if err != nil {
				return err
			}
			for _, p := range listings {
				fmt.Printf("%s\t%s\t%s\t%s\n",
					p.ID,
					p.BeginAt.Local().Format("15:04"),
					p.EndAt.Local().Format("15:04"),
					p.Title)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "calendar day, YYYY-MM-DD (default today)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(*cobra.Command, []string) {
			fmt.Println("ndgr", version)
		},
	}
}
