package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

func infoCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:  "info",
		Usage: "Show store diagnostics and registered backends",
		Flags: storeFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			w := c.Root().Writer

			fmt.Fprintf(w, "registered backends: %v\n", vectorstore.RegisteredBackends())

			dual, err := cfg.newDual(ctx)
			if err != nil {
				return err
			}
			defer dual.Disconnect()

			for _, kind := range []model.Kind{model.KindKnowledge, model.KindReflection} {
				info, ok := dual.Info()[kind]
				if !ok {
					continue
				}
				fmt.Fprintf(w, "\n%s:\n", kind)
				fmt.Fprintf(w, "  backend:    %s\n", info.Backend)
				fmt.Fprintf(w, "  collection: %s\n", info.Collection)
				fmt.Fprintf(w, "  dimension:  %d\n", info.Dimension)
				fmt.Fprintf(w, "  connected:  %t\n", info.Connected)
				if info.FallbackApplied {
					fmt.Fprintf(w, "  note:       networked backend had no address, fell back to embedded store\n")
				}
			}
			return nil
		},
	}
}
