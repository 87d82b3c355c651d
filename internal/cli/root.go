// Package cli wires configuration, logging, the slicing pipeline and the
// dispatch gate into the pdfslicer command.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pdf-slicer/internal/config"
	"github.com/raaihank/pdf-slicer/internal/dispatch"
	"github.com/raaihank/pdf-slicer/internal/logger"
	"github.com/raaihank/pdf-slicer/internal/mailer"
	"github.com/raaihank/pdf-slicer/internal/pdf"
	"github.com/raaihank/pdf-slicer/internal/report"
	"github.com/raaihank/pdf-slicer/internal/slicer"
)

var (
	configPath string
	inputDir   string
	workers    int
)

var rootCmd = &cobra.Command{
	Use:   "pdfslicer <pdf-name>",
	Short: "Split a PDF into per-recipient pages and mail them",
	Long: `Splits a multi-page PDF into single pages, assigns every page to the
recipient whose keyword appears in its text, password protects pages where
configured and, after confirmation, mails each page to its recipient.

A bare file name is looked up in the configured input directory.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSlice,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVar(&inputDir, "input-dir", "", "Directory bare PDF names are resolved in (overrides input.dir)")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent page tasks, 0 or less for unlimited (overrides input.workers)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func runSlice(cmd *cobra.Command, args []string) error {
	cfg, usedConfig, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("input-dir") {
		cfg.Input.Dir = inputDir
	}
	if cmd.Flags().Changed("workers") {
		cfg.Input.Workers = workers
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck // stdout sync fails on terminals

	log = log.WithRunID(ulid.Make().String())
	log.Info("Starting pdf-slicer",
		zap.String("version", version),
		zap.String("config", usedConfig),
		zap.Int("recipients", len(cfg.Recipients)))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, cancelling operations...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if usedConfig != "" {
		err := config.Watch(ctx, usedConfig, func(e fsnotify.Event) {
			log.Warn("Configuration changed on disk, it applies to the next run", zap.String("file", e.Name))
		}, func(err error) {
			log.Warn("Configuration watcher failed", zap.Error(err))
		})
		if err != nil {
			log.Warn("Cannot watch configuration file", zap.Error(err))
		}
	}

	if len(cfg.Recipients) == 0 {
		log.Warn("No recipients configured, every page will be reported as unmatched")
	}

	source, err := resolveSource(cfg.Input.Dir, args[0])
	if err != nil {
		log.Error("Cannot open document", zap.Error(err))
		return err
	}

	if err := run(ctx, cmd, cfg, log, source); err != nil {
		log.Error("Run aborted", zap.Error(err))
		return err
	}
	return nil
}

// documentTools holds the collaborators that touch PDF files
type documentTools struct {
	splitter  slicer.DocumentSplitter
	extractor slicer.TextExtractor
	encrypter slicer.Encrypter
}

// Collaborator factories, replaced in tests.
var (
	newDocumentTools = func(logger *zap.Logger) documentTools {
		return documentTools{
			splitter:  pdf.NewSplitter(logger),
			extractor: pdf.NewTextExtractor(logger),
			encrypter: pdf.NewEncrypter(logger),
		}
	}

	newSender = func(cfg *config.Config, logger *zap.Logger) dispatch.Sender {
		return mailer.New(
			mailer.SMTPTransport(cfg.SMTP),
			mailer.NewThrottle(cfg.Throttle),
			cfg.Mail.Sender,
			logger,
		)
	}
)

func run(ctx context.Context, cmd *cobra.Command, cfg *config.Config, log *logger.Logger, source string) error {
	pipelineLog := log.WithComponent("pipeline").Logger
	tools := newDocumentTools(pipelineLog)
	pipeline, err := slicer.NewPipeline(
		tools.splitter,
		tools.extractor,
		tools.encrypter,
		cfg.Recipients,
		cfg.SlicerConfig(),
		pipelineLog,
	)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	result, err := pipeline.Run(ctx, source)
	if err != nil {
		return err
	}

	rep := report.Build(result)

	if !dispatch.Interactive(os.Stdin) {
		log.Warn("Standard input is not a terminal, the confirmation is read from it anyway")
	}

	gate := dispatch.NewGate(
		dispatch.NewLinePrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
		newSender(cfg, log.WithComponent("mailer").Logger),
		cmd.OutOrStdout(),
		dispatch.Config{ConfirmToken: cfg.Mail.ConfirmToken, AdminEmail: cfg.Mail.AdminEmail},
		log.WithComponent("dispatch").Logger,
	)

	summary, err := gate.Run(ctx, rep, result.Records)
	if err != nil {
		return err
	}

	log.Info("Done", zap.Stringer("dispatch", summary.State), zap.Int("sent", summary.Sent), zap.Int("failed", summary.Failed))
	return nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}

	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			MaxSize:    cfg.Logging.File.MaxSize,
			MaxAge:     cfg.Logging.File.MaxAge,
			MaxBackups: cfg.Logging.File.MaxBackups,
			Compress:   cfg.Logging.File.Compress,
		}
	}

	return logger.New(loggerConfig)
}

// resolveSource looks a bare file name up in dir; anything with a directory
// component is used as given.
func resolveSource(dir, name string) (string, error) {
	path := name
	if filepath.Base(name) == name {
		path = filepath.Join(dir, name)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("document not found: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	return path, nil
}
