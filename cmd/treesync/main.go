package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/treesync/internal"
	"github.com/starford/treesync/internal/wave"
	pkgconfig "github.com/starford/treesync/pkg/config"
)

const defaultConfigPath = "config/config.yaml"

// loadConfig reads the config file. The default path may be absent, in
// which case the built-in defaults apply; an explicit path must exist.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if configPath == defaultConfigPath {
		if _, err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func compare(ctx context.Context, cmd *cli.Command) error {
	// An interrupted compare still writes its partial result and a
	// checkpoint for --resume.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Flags override the wave section for this run only.
	if cmd.IsSet("interactive") {
		cfg.Wave.Interactive = cmd.Bool("interactive")
	}
	if cmd.IsSet("strategy") {
		cfg.Wave.Strategy = wave.ThresholdStrategy(cmd.String("strategy"))
	}
	if cmd.IsSet("max-level") {
		cfg.Wave.MaxLevel = int(cmd.Int("max-level"))
	}
	if cmd.IsSet("decisions") {
		cfg.Confirm.DecisionsFile = cmd.String("decisions")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}

	return internal.RunCompare(ctx, internal.CompareParams{
		SourceFile:        cmd.String("source"),
		DestinationFile:   cmd.String("destination"),
		SourceAnchor:      cmd.String("source-anchor"),
		DestinationAnchor: cmd.String("destination-anchor"),
		ResumeFile:        cmd.String("resume"),
	}, internal.WithConfig(cfg))
}

func validate(ctx context.Context, cmd *cli.Command) error {
	runID := cmd.Args().First()
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunValidate(ctx, runID, internal.WithConfig(cfg))
}

func anchors(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunAnchors(ctx, internal.AnchorParams{
		SourceFile:      cmd.String("source"),
		DestinationFile: cmd.String("destination"),
		PersonID:        cmd.String("person"),
		MinScore:        int(cmd.Int("min-score")),
		Limit:           int(cmd.Int("limit")),
	}, internal.WithConfig(cfg))
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg))
}

func main() {
	cmd := &cli.Command{
		Name:  "treesync",
		Usage: "Match two family trees outward from an anchor person and propose updates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: defaultConfigPath,
				Value:       defaultConfigPath,
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "compare",
				Usage:  "Compare two trees starting from an anchor pair",
				Action: compare,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Source tree (.ged or .json)", Required: true},
					&cli.StringFlag{Name: "destination", Aliases: []string{"d"}, Usage: "Destination tree (.ged or .json)", Required: true},
					&cli.StringFlag{Name: "source-anchor", Usage: "Anchor person id in the source tree (taken from --resume when omitted)"},
					&cli.StringFlag{Name: "destination-anchor", Usage: "Anchor person id in the destination tree (taken from --resume when omitted)"},
					&cli.BoolFlag{Name: "interactive", Aliases: []string{"i"}, Usage: "Ask a reviewer about uncertain matches"},
					&cli.StringFlag{Name: "strategy", Usage: "Threshold strategy: fixed, adaptive, aggressive or conservative"},
					&cli.IntFlag{Name: "max-level", Usage: "Stop expanding past this many hops from the anchor"},
					&cli.StringFlag{Name: "decisions", Usage: "YAML file of remembered decisions, read and updated"},
					&cli.StringFlag{Name: "resume", Usage: "Continue an interrupted compare from its checkpoint.json"},
				},
			},
			{
				Name:   "anchors",
				Usage:  "Rank destination persons that could match a source person",
				Action: anchors,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Source tree (.ged or .json)", Required: true},
					&cli.StringFlag{Name: "destination", Aliases: []string{"d"}, Usage: "Destination tree (.ged or .json)", Required: true},
					&cli.StringFlag{Name: "person", Aliases: []string{"p"}, Usage: "Source person id", Required: true},
					&cli.IntFlag{Name: "min-score", Value: 50, Usage: "Hide candidates scoring below this"},
					&cli.IntFlag{Name: "limit", Value: 10, Usage: "Show at most this many candidates"},
				},
			},
			{
				Name:      "validate",
				Usage:     "Re-run validation of a stored run against its input files",
				ArgsUsage: "<run-id>",
				Action:    validate,
			},
			{
				Name:   "serve",
				Usage:  "Serve the review API and progress events over HTTP",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve run inspection tools over MCP stdio",
				Action: mcp,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
