package command

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/objmesh-go/internal/cli/output"
	"github.com/yndnr/objmesh-go/internal/config"
	"github.com/yndnr/objmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/objmesh-go/internal/infra/confloader"
	"github.com/yndnr/objmesh-go/internal/telemetry/logger"
)

// DefaultBundle is the bundle used when --bundle is not given.
const DefaultBundle = "objmesh.default"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "objmesh",
		Usage:   "Distributed session object store",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ServeCommand(),
			ObjectCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: loadEnvFile,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to YAML configuration file",
			EnvVars: []string{"OBJMESH_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Load environment variables from a dotenv file first",
		},
		&cli.StringFlag{
			Name:    "bundle",
			Aliases: []string{"b"},
			Usage:   "Application bundle name",
			EnvVars: []string{"OBJMESH_BUNDLE"},
			Value:   DefaultBundle,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   string(output.FormatTable),
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Override node.data_dir",
		},
		&cli.StringFlag{
			Name:  "device-id",
			Usage: "Override node.device_id",
		},
		&cli.BoolFlag{
			Name:  "in-memory",
			Usage: "Keep all data in memory",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override log.level (debug, info, warn, error)",
		},
	}
}

func loadEnvFile(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	}
	return nil
}

// flagOverrides maps set command line flags to configuration keys.
func flagOverrides(c *cli.Context) map[string]any {
	overrides := make(map[string]any)
	for flag, key := range map[string]string{
		"data-dir":     "node.data_dir",
		"device-id":    "node.device_id",
		"log-level":    "log.level",
		"metrics-addr": "metrics.addr",
	} {
		if c.IsSet(flag) {
			overrides[key] = c.String(flag)
		}
	}
	if c.IsSet("in-memory") {
		overrides["node.in_memory"] = c.Bool("in-memory")
	}
	if c.IsSet("seed") {
		overrides["mesh.enabled"] = true
		overrides["mesh.seeds"] = c.StringSlice("seed")
	}
	if c.IsSet("mesh-port") {
		overrides["mesh.enabled"] = true
		overrides["mesh.bind_port"] = c.Int("mesh-port")
	}
	return overrides
}

// loadConfig merges defaults, the configuration file, the environment and
// flags, then verifies the result.
func loadConfig(c *cli.Context) (*config.NodeConfig, error) {
	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(c.String("config")),
		confloader.WithOverrides(flagOverrides(c)),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger and installs it as the default.
func newLogger(cfg *config.NodeConfig) (*slog.Logger, error) {
	l, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(l)
	return l, nil
}

func outputFormat(c *cli.Context) (output.Format, error) {
	return output.ParseFormat(c.String("output"))
}

// printResult writes data in the selected output format.
func printResult(c *cli.Context, data any) error {
	format, err := outputFormat(c)
	if err != nil {
		return err
	}
	return output.NewFormatter(format).Format(c.App.Writer, data)
}
