package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/aethonlab/mnemo/pkg/model"
)

func forgetCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "forget",
		Usage:     "Delete a memory by ID",
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

			if err := store.Delete(ctx, id); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "Deleted memory %d\n", id)
			return nil
		},
	}
}
