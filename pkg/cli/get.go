package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/aethonlab/mnemo/pkg/model"
)

func getCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "get",
		Usage:     "Show a single memory by ID",
		ArgsUsage: "<memory-id>",
		Flags:     storeFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			id, err := parseID(c)
			if err != nil {
				return err
			}

			dual, err := cfg.newDual(ctx)
			if err != nil {
				return err
			}
			defer dual.Disconnect()

			store := dual.Store(model.KindOfID(id))
			if store == nil {
				return goerr.New("reflection store is not configured", goerr.V("id", id))
			}

			record, err := store.Get(ctx, id)
			if err != nil {
				return err
			}
			if record == nil {
				return goerr.New("memory not found", goerr.V("id", id))
			}

			raw, err := json.MarshalIndent(record.Payload, "", "  ")
			if err != nil {
				return goerr.Wrap(err, "failed to render payload")
			}
			fmt.Fprintln(c.Root().Writer, string(raw))
			return nil
		},
	}
}

func parseID(c *cli.Command) (int64, error) {
	arg := c.Args().First()
	if arg == "" {
		return 0, goerr.New("memory ID argument is required")
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid memory ID", goerr.V("arg", arg))
	}
	return id, nil
}
