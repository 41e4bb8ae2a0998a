package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/evidence-engine/internal/bootstrap"
	"github.com/kirillkom/evidence-engine/internal/config"
	"github.com/kirillkom/evidence-engine/internal/core/domain"
	"github.com/kirillkom/evidence-engine/internal/observability/logging"
)

const service = "evidencectl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}

type cli struct {
	envFile  string
	app      *bootstrap.App
	closeApp func()
}

func run(ctx context.Context, args []string) error {
	c := &cli{}
	root := c.rootCmd()
	root.SetArgs(args)
	return c.execute(ctx, root)
}

// execute runs root and closes the app afterwards. Cobra skips post-run hooks
// when RunE fails, so closing cannot live in one.
func (c *cli) execute(ctx context.Context, root *cobra.Command) error {
	defer c.close()
	return root.ExecuteContext(ctx)
}

func (c *cli) close() {
	if c.closeApp != nil {
		c.closeApp()
		c.closeApp = nil
	}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           service,
		Short:         "Administer the evidence engine: ingest documents, run matches and searches.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(c.envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg := config.Load()
			logger := logging.NewJSONLoggerTo(cmd.ErrOrStderr(), service, cfg.LogLevel)
			app, err := bootstrap.New(cmd.Context(), cfg, bootstrap.Options{Service: service, Logger: logger})
			if err != nil {
				return err
			}
			c.app = app
			c.closeApp = app.Close
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.envFile, "env-file", ".env", "optional KEY=VALUE file loaded before the environment")

	root.AddCommand(c.ingestCmd(), c.matchCmd(), c.searchCmd(), c.reembedCmd())
	return root
}

func (c *cli) ingestCmd() *cobra.Command {
	var (
		sectionsFile string
		sourceFile   string
	)
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Parse, chunk and embed a plain-text document, replacing earlier chunks of the same source",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sectionsFile == "" && len(args) == 0 {
				return fmt.Errorf("a document path or --sections is required")
			}

			var (
				result *domain.IngestResult
				err    error
			)
			if sectionsFile != "" {
				sections, loadErr := loadSections(sectionsFile)
				if loadErr != nil {
					return loadErr
				}
				if sourceFile == "" {
					sourceFile = filepath.Base(sectionsFile)
				}
				result, err = c.app.IngestUC.IngestSections(cmd.Context(), sections, sourceFile)
			} else {
				raw, readErr := os.ReadFile(args[0])
				if readErr != nil {
					return fmt.Errorf("read document: %w", readErr)
				}
				if sourceFile == "" {
					sourceFile = filepath.Base(args[0])
				}
				result, err = c.app.IngestUC.Ingest(cmd.Context(), string(raw), sourceFile)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"source_file":       result.SourceFile,
				"chunks":            len(result.Chunks),
				"embedded":          result.Embedded,
				"unembedded":        result.Unembedded,
				"fallback_embedded": result.FallbackEmbedded,
			})
		},
	}
	cmd.Flags().StringVar(&sectionsFile, "sections", "", "YAML list of {topic, text} sections used instead of heuristic splitting")
	cmd.Flags().StringVar(&sourceFile, "source", "", "source file label stored on every chunk (defaults to the file name)")
	return cmd
}

func (c *cli) matchCmd() *cobra.Command {
	var (
		emotion   string
		intensity float64
		hybrid    bool
	)
	cmd := &cobra.Command{
		Use:   "match <message>",
		Short: "Match a message against the condition catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if intensity < 0 || intensity > 1 {
				return fmt.Errorf("--intensity must be within [0,1]")
			}
			signal := domain.EmotionalSignal{Primary: emotion, Intensity: intensity}
			if hybrid {
				result, err := c.app.MatchUC.HybridMatch(cmd.Context(), args[0], signal)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			}
			result, err := c.app.MatchUC.Match(cmd.Context(), args[0], signal)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&emotion, "emotion", "", "primary emotion of the signal")
	cmd.Flags().Float64Var(&intensity, "intensity", 0, "signal intensity in [0,1]")
	cmd.Flags().BoolVar(&hybrid, "hybrid", false, "escalate to document search when the structured match is weak")
	return cmd
}

func (c *cli) searchCmd() *cobra.Command {
	var (
		limit         int
		minSimilarity float64
		filter        domain.SearchFilter
		category      string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Vector search over ingested chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Category = domain.EvidenceCategory(strings.ToLower(strings.TrimSpace(category)))
			matches, fallback, err := c.app.SearchUC.Search(cmd.Context(), args[0], limit, minSimilarity, filter)
			if err != nil {
				return err
			}
			if matches == nil {
				matches = []domain.DocumentMatch{}
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"matches":            matches,
				"embedding_fallback": fallback,
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of matches")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "cosine similarity floor")
	cmd.Flags().StringVar(&filter.Topic, "topic", "", "restrict to a topic")
	cmd.Flags().StringVar(&filter.SourceFile, "source", "", "restrict to a source file")
	cmd.Flags().StringVar(&category, "category", "", "restrict to chunks with scripture, tradition or scholar evidence")
	return cmd
}

func (c *cli) reembedCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "reembed",
		Short: "Embed chunks that were stored without a vector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := c.app.IngestUC.ReembedMissing(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int{"reembedded": n})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum chunks to process (defaults to REEMBED_BATCH)")
	return cmd
}

func loadSections(path string) ([]domain.ManualSection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sections file: %w", err)
	}
	var sections []domain.ManualSection
	if err := yaml.Unmarshal(raw, &sections); err != nil {
		return nil, fmt.Errorf("decode sections file: %w", err)
	}
	return sections, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
