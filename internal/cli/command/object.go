package command

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/objmesh-go/internal/cli/output"
	"github.com/yndnr/objmesh-go/internal/config"
	"github.com/yndnr/objmesh-go/internal/core/domain"
	"github.com/yndnr/objmesh-go/internal/node"
	"github.com/yndnr/objmesh-go/internal/telemetry/logger"
	"github.com/yndnr/objmesh-go/pkg/fieldcodec"
	"github.com/yndnr/objmesh-go/pkg/objmesh"
)

// ObjectCommand returns the object subcommand group. Each command starts a
// node without the mesh, opens the session (creating its table when
// missing), runs and closes the node again.
func ObjectCommand() *cli.Command {
	typeFlag := &cli.StringFlag{
		Name:    "type",
		Aliases: []string{"t"},
		Usage:   "Field type: string, boolean, double, complex (base64)",
	}
	return &cli.Command{
		Name:    "object",
		Aliases: []string{"obj"},
		Usage:   "Operate on session objects in the local data directory",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a session object",
				ArgsUsage: "SESSION_ID",
				Action:    objectCreate,
			},
			{
				Name:      "put",
				Usage:     "Set a field",
				ArgsUsage: "SESSION_ID FIELD VALUE",
				Flags:     []cli.Flag{typeFlag},
				Action:    objectPut,
			},
			{
				Name:      "get",
				Usage:     "Read a field",
				ArgsUsage: "SESSION_ID FIELD",
				Flags:     []cli.Flag{typeFlag},
				Action:    objectGet,
			},
			{
				Name:      "type",
				Usage:     "Show the type of a field",
				ArgsUsage: "SESSION_ID FIELD",
				Action:    objectType,
			},
			{
				Name:      "dump",
				Usage:     "Show every field of a session",
				ArgsUsage: "SESSION_ID",
				Action:    objectDump,
			},
			{
				Name:      "save",
				Usage:     "Hand the session off to another device",
				ArgsUsage: "SESSION_ID DEVICE_ID",
				Action:    objectSave,
			},
			{
				Name:      "revoke",
				Usage:     "Revoke a pending hand-off",
				ArgsUsage: "SESSION_ID",
				Action:    objectRevoke,
			},
			{
				Name:      "delete",
				Usage:     "Delete a session object, or one field with --field",
				ArgsUsage: "SESSION_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "field",
						Aliases: []string{"f"},
						Usage:   "Delete only this field",
					},
				},
				Action: objectDelete,
			},
		},
	}
}

// fieldEntry is one field of a session.
type fieldEntry struct {
	Field string `json:"field" yaml:"field"`
	Type  string `json:"type" yaml:"type"`
	Value string `json:"value" yaml:"value"`
}

type fieldList []fieldEntry

// Table implements output.Tabular.
func (l fieldList) Table() *output.Table {
	t := output.NewTable("FIELD", "TYPE", "VALUE")
	for _, f := range l {
		t.AddRow(f.Field, f.Type, f.Value)
	}
	return t
}

func entryOf(field string, v objmesh.Value) fieldEntry {
	return fieldEntry{Field: field, Type: v.Type().String(), Value: v.Format()}
}

func result(sessionID, outcome string) map[string]string {
	return map[string]string{"session_id": sessionID, "result": outcome}
}

// requireArgs returns the first n positional arguments.
func requireArgs(c *cli.Context, n int) ([]string, error) {
	if c.NArg() != n {
		return nil, fmt.Errorf("expected %d argument(s): %s", n, c.Command.ArgsUsage)
	}
	return c.Args().Slice(), nil
}

type objectFunc func(ctx context.Context, store *objmesh.Store, h *objmesh.Handle, args []string) error

// withObject runs fn against the session named by the first argument.
func withObject(c *cli.Context, nargs int, fn objectFunc) error {
	return runObject(c, nargs, false, fn)
}

// withHandoff is withObject for save and revoke. A snapshot held by the
// in-process coordinator would vanish when the command exits, so these
// need a redis coordinator.
func withHandoff(c *cli.Context, nargs int, fn objectFunc) error {
	return runObject(c, nargs, true, fn)
}

func runObject(c *cli.Context, nargs int, handoff bool, fn objectFunc) error {
	args, err := requireArgs(c, nargs)
	if err != nil {
		return err
	}
	if _, err := outputFormat(c); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if handoff && cfg.Coordinator.Mode != config.CoordinatorRedis {
		return domain.ErrRemoteUnavailable.WithDetails(
			fmt.Sprintf("%s needs coordinator.mode %s, got %s", c.Command.Name, config.CoordinatorRedis, cfg.Coordinator.Mode))
	}
	cfg.Mesh.Enabled = false
	if !c.IsSet("log-level") {
		cfg.Log.Level = "warn"
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := logger.WithSessionID(c.Context, args[0])
	n, err := node.New(ctx, cfg, node.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(context.Background()); err != nil {
			log.WarnContext(ctx, "node close failed", "error", err)
		}
	}()

	store, err := n.Open(c.String("bundle"))
	if err != nil {
		return err
	}
	h, err := store.CreateObject(args[0])
	if errors.Is(err, domain.ErrAlreadyExists) {
		h, err = store.Get(args[0])
	}
	if err != nil {
		return err
	}
	return fn(ctx, store, h, args)
}

func parseType(c *cli.Context) (objmesh.Type, bool, error) {
	name := c.String("type")
	if name == "" {
		return 0, false, nil
	}
	t, err := fieldcodec.ParseType(name)
	return t, true, err
}

func objectCreate(c *cli.Context) error {
	return withObject(c, 1, func(_ context.Context, _ *objmesh.Store, h *objmesh.Handle, _ []string) error {
		return printResult(c, result(h.SessionID(), "created"))
	})
}

func objectPut(c *cli.Context) error {
	typ, ok, err := parseType(c)
	if err != nil {
		return err
	}
	if !ok {
		typ = objmesh.TypeString
	}
	return withObject(c, 3, func(_ context.Context, _ *objmesh.Store, h *objmesh.Handle, args []string) error {
		v, err := fieldcodec.Parse(typ, args[2])
		if err != nil {
			return domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("%s value %q", typ, args[2])).WithCause(err)
		}
		if err := h.Put(args[1], v); err != nil {
			return err
		}
		return printResult(c, fieldList{entryOf(args[1], v)})
	})
}

func objectGet(c *cli.Context) error {
	typ, ok, err := parseType(c)
	if err != nil {
		return err
	}
	return withObject(c, 2, func(_ context.Context, _ *objmesh.Store, h *objmesh.Handle, args []string) error {
		if !ok {
			if typ, err = h.GetType(args[1]); err != nil {
				return err
			}
		}
		v, err := h.Get(args[1], typ)
		if err != nil {
			return err
		}
		return printResult(c, fieldList{entryOf(args[1], v)})
	})
}

func objectType(c *cli.Context) error {
	return withObject(c, 2, func(_ context.Context, _ *objmesh.Store, h *objmesh.Handle, args []string) error {
		typ, err := h.GetType(args[1])
		if err != nil {
			return err
		}
		return printResult(c, map[string]string{"field": args[1], "type": typ.String()})
	})
}

func objectDump(c *cli.Context) error {
	return withObject(c, 1, func(_ context.Context, _ *objmesh.Store, h *objmesh.Handle, _ []string) error {
		fields, err := h.Fields()
		if err != nil {
			return err
		}
		list := make(fieldList, 0, len(fields))
		for name, v := range fields {
			list = append(list, entryOf(name, v))
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Field < list[j].Field })
		return printResult(c, list)
	})
}

func objectSave(c *cli.Context) error {
	return withHandoff(c, 2, func(ctx context.Context, _ *objmesh.Store, h *objmesh.Handle, args []string) error {
		if err := h.Save(ctx, args[1]); err != nil {
			return err
		}
		return printResult(c, result(h.SessionID(), "saved for "+args[1]))
	})
}

func objectRevoke(c *cli.Context) error {
	return withHandoff(c, 1, func(ctx context.Context, _ *objmesh.Store, h *objmesh.Handle, _ []string) error {
		if err := h.RevokeSave(ctx); err != nil {
			return err
		}
		return printResult(c, result(h.SessionID(), "revoked"))
	})
}

func objectDelete(c *cli.Context) error {
	return withObject(c, 1, func(ctx context.Context, store *objmesh.Store, h *objmesh.Handle, _ []string) error {
		if field := c.String("field"); field != "" {
			if err := h.Delete(field); err != nil {
				return err
			}
			return printResult(c, result(h.SessionID(), "deleted field "+field))
		}
		if err := store.DeleteObject(ctx, h.SessionID()); err != nil {
			return err
		}
		return printResult(c, result(h.SessionID(), "deleted"))
	})
}
