// Command fluxctl is the CLI front end for the fetch controller: a single
// "fetch" subcommand that drives one adaptive parallel download to
// completion, reporting progress as plain text lines. Grounded on the
// cobra root-command layout used by the download-manager CLIs in the
// example pack (flag-per-tunable, Run closure dispatching into the core).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/NamanBalaji/fluxion/internal/config"
	"github.com/NamanBalaji/fluxion/internal/events"
	"github.com/NamanBalaji/fluxion/internal/fetchctl"
	"github.com/NamanBalaji/fluxion/internal/fluxtype"
	"github.com/NamanBalaji/fluxion/internal/logx"
	"github.com/NamanBalaji/fluxion/internal/protocol"
	"github.com/NamanBalaji/fluxion/internal/protocol/ftp"
	"github.com/NamanBalaji/fluxion/internal/protocol/httpx"
	"github.com/NamanBalaji/fluxion/internal/protocol/sftp"
	"github.com/NamanBalaji/fluxion/internal/resumestore"
)

var fluxctlVersion = "dev"

var (
	output       string
	mirrors      []string
	expectedHash string
	tlsPin       string
	minConn      int
	maxConn      int
	minChunkMB   int
	maxChunkMB   int
	mode         string
	debug        bool
)

var rootCmd = &cobra.Command{
	Use:     "fluxctl",
	Short:   "fluxctl fetches a file over HTTP/1.1, HTTP/2, HTTP/3, FTP, SFTP, or SCP with adaptive parallel chunking",
	Version: fluxctlVersion,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Fetch one target, resuming a prior partial download if one exists",
	Args:  cobra.ExactArgs(1),
	RunE:  runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&output, "output", "o", "", "output file path (defaults to the URL's base name in the configured output directory)")
	fetchCmd.Flags().StringArrayVarP(&mirrors, "mirror", "m", nil, "additional mirror URL for MIRROR-mode probing (repeatable)")
	fetchCmd.Flags().StringVar(&expectedHash, "sha256", "", "expected hex sha256 digest; mismatch fails the fetch")
	fetchCmd.Flags().StringVar(&tlsPin, "tls-pin", "", "expected hex sha256 of the leaf certificate, for HTTPS targets")
	fetchCmd.Flags().IntVar(&minConn, "min-connections", 0, "minimum concurrent connections (0 = use config default)")
	fetchCmd.Flags().IntVar(&maxConn, "max-connections", 0, "maximum concurrent connections (0 = use config default)")
	fetchCmd.Flags().IntVar(&minChunkMB, "min-chunk-mb", 0, "minimum chunk size in MiB (0 = use config default)")
	fetchCmd.Flags().IntVar(&maxChunkMB, "max-chunk-mb", 0, "maximum chunk size in MiB (0 = use config default)")
	fetchCmd.Flags().StringVar(&mode, "mode", "", "force a transfer mode: single or stream (parallel, or no value, lets the controller decide)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(fetchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runFetch(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	logx.Init(logx.Options{Format: "console", Level: level})
	log := logx.Named("fluxctl")

	cfg, err := config.GetConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	target := args[0]
	outputPath := output
	if outputPath == "" {
		outputPath = filepath.Join(cfg.OutputDir, baseNameOf(target))
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	store, err := resumestore.Open(filepath.Join(cfg.OutputDir, ".fluxion.db"))
	if err != nil {
		return fmt.Errorf("opening resume store: %w", err)
	}
	defer store.Close()

	registry := protocol.NewRegistry()
	registry.Register(httpx.NewHandler())
	registry.Register(ftp.NewHandler())
	registry.Register(sftp.NewHandler())

	sink := events.NewPlainSink(func(line string) { fmt.Println(line) })
	controller := fetchctl.New(registry, sink)

	req := fetchctl.Request{
		URL:          target,
		Mirrors:      mirrors,
		OutputPath:   outputPath,
		ExpectedHash: expectedHash,
		TLSPin:       tlsPin,
		MinConn:      firstNonZero(minConn, cfg.Fetch.MinConnections),
		MaxConn:      firstNonZero(maxConn, cfg.Fetch.MaxConnections),
		MinChunkSize: firstNonZero64(int64(minChunkMB)*1024*1024, cfg.Fetch.MinChunkSize),
		MaxChunkSize: firstNonZero64(int64(maxChunkMB)*1024*1024, cfg.Fetch.MaxChunkSize),
		ForceMode:    parseMode(mode),
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("received interrupt, cancelling fetch")
		cancel()
	}()

	rec := resumestore.Record{
		ID:         outputPath,
		OutputPath: outputPath,
		State:      "EXECUTING",
	}

	result, err := controller.Run(ctx, req)
	if err != nil {
		rec.State = "FAILED"
		_ = store.Save(rec)
		return fmt.Errorf("fetch failed: %w", err)
	}

	rec.State = "DONE"
	rec.TotalSize = result.Bytes
	if err := store.Save(rec); err != nil {
		log.Warn().Err(err).Msg("failed to persist completion record")
	}

	return nil
}

func baseNameOf(rawURL string) string {
	base := filepath.Base(rawURL)
	if base == "." || base == "/" || base == "" {
		return "fluxion-download"
	}
	return base
}

func firstNonZero(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

func firstNonZero64(v, def int64) int64 {
	if v != 0 {
		return v
	}
	return def
}

func parseMode(s string) fluxtype.Mode {
	switch s {
	case "single":
		return fluxtype.ModeSingle
	case "stream":
		return fluxtype.ModeStream
	default:
		return fluxtype.ModeParallel
	}
}
