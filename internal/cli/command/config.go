package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/objmesh-go/internal/cli/output"
	"github.com/yndnr/objmesh-go/internal/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Print the merged configuration with secrets masked",
				Action: configShow,
			},
			{
				Name:   "validate",
				Usage:  "Check the merged configuration",
				Action: configValidate,
			},
		},
	}
}

func configShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	format, err := outputFormat(c)
	if err != nil {
		return err
	}
	if format == output.FormatTable {
		format = output.FormatYAML
	}
	return output.NewFormatter(format).Format(c.App.Writer, config.Sanitize(cfg))
}

func configValidate(c *cli.Context) error {
	if _, err := loadConfig(c); err != nil {
		return err
	}
	return printResult(c, "configuration is valid")
}
