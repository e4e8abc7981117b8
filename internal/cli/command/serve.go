package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/objmesh-go/internal/infra/confloader"
	"github.com/yndnr/objmesh-go/internal/infra/shutdown"
	"github.com/yndnr/objmesh-go/internal/node"
	"github.com/yndnr/objmesh-go/internal/telemetry/logger"
	"github.com/yndnr/objmesh-go/pkg/objmesh"
)

const shutdownTimeout = 30 * time.Second

// ServeCommand returns the serve command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a device node",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "watch",
				Usage: "Create these sessions and log their field and status changes",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Override metrics.addr (host:port)",
			},
			&cli.StringSliceFlag{
				Name:  "seed",
				Usage: "Mesh seed address (host:port); enables the mesh",
			},
			&cli.IntFlag{
				Name:  "mesh-port",
				Usage: "Mesh bind port; enables the mesh",
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	n, err := node.New(c.Context, cfg, node.WithLogger(log))
	if err != nil {
		return err
	}

	sh := shutdown.NewHandler(shutdownTimeout, log)
	sh.OnShutdown("node", n.Close)

	if err := n.StartAdmin(); err != nil {
		_ = sh.Shutdown()
		return err
	}
	if err := watchSessions(n, c.String("bundle"), c.StringSlice("watch"), log); err != nil {
		_ = sh.Shutdown()
		return err
	}

	if path := c.String("config"); path != "" {
		w, err := confloader.NewWatcher(path, log)
		if err != nil {
			log.Warn("configuration hot reload disabled", "error", err)
		} else {
			w.OnChange(func(string) {
				fresh, err := loadConfig(c)
				if err != nil {
					log.Warn("configuration reload rejected", "error", err)
					return
				}
				logger.SetLevel(fresh.Log.Level)
				log.Info("configuration reloaded", "log_level", fresh.Log.Level)
			})
			go w.Run(c.Context)
			sh.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}
	}

	log.Info("objmesh node started",
		"device_id", n.DeviceID(),
		"bundle", c.String("bundle"),
		"mesh_addr", n.MeshAddr(),
		"admin_addr", n.AdminAddr())
	return sh.Wait(c.Context)
}

// watchSessions creates each session and logs its changes.
func watchSessions(n *node.Node, bundle string, sessions []string, log *slog.Logger) error {
	if len(sessions) == 0 {
		return nil
	}
	store, err := n.Open(bundle)
	if err != nil {
		return err
	}
	store.SetStatusNotifier(objmesh.StatusWatcherFunc(func(sessionID, networkID string, status objmesh.Status) {
		log.Info("status changed", "session_id", sessionID, "network_id", networkID, "status", string(status))
	}))

	for _, id := range sessions {
		h, err := store.CreateObject(id)
		if err != nil {
			return err
		}
		err = store.Watch(h, objmesh.FieldWatcherFunc(func(sessionID string, fields []string) {
			log.Info("fields changed", "session_id", sessionID, "fields", fields)
		}))
		if err != nil {
			return err
		}
		log.Info("watching session", "session_id", id)
	}
	return nil
}
