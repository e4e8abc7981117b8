package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/objmesh-go/internal/cli/output"
	"github.com/yndnr/objmesh-go/internal/infra/buildinfo"
)

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			info := buildinfo.Get()
			format, err := outputFormat(c)
			if err != nil {
				return err
			}
			if format == output.FormatTable {
				return printResult(c, map[string]string{
					"version":    info.Version,
					"commit":     info.Commit,
					"build_time": info.BuildTime,
					"go_version": info.GoVersion,
					"platform":   info.Platform,
				})
			}
			return printResult(c, info)
		},
	}
}
