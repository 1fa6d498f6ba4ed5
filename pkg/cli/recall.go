package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/vectorstore"
)

func recallCommand() *cli.Command {
	var (
		cfg     config
		query   string
		limit   int64
		userID  string
		project string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Natural language query to search memories for",
			Destination: &query,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of memories to return",
			Value:       5,
			Destination: &limit,
		},
		&cli.StringFlag{
			Name:        "user",
			Usage:       "Only return memories owned by this user ID",
			Sources:     cli.EnvVars("MNEMO_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "project",
			Usage:       "Only return memories from this project ID",
			Sources:     cli.EnvVars("MNEMO_PROJECT_ID"),
			Destination: &project,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "recall",
		Usage: "Search stored memories by semantic similarity",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			dual, err := cfg.newDual(ctx)
			if err != nil {
				return err
			}
			defer dual.Disconnect()

			embedder, _, err := cfg.newEmbedder(ctx, dual)
			if err != nil {
				return err
			}
			defer embedder.Close()

			vector, err := embedder.Embed(ctx, query)
			if err != nil {
				return goerr.Wrap(err, "failed to embed query")
			}

			var filter *vectorstore.Filter
			if userID != "" || project != "" {
				filter = &vectorstore.Filter{Eq: map[string]any{}}
				if userID != "" {
					filter.Eq["user_id"] = userID
				}
				if project != "" {
					filter.Eq["project_id"] = project
				}
			}

			matches, err := dual.Store(model.KindKnowledge).Search(ctx, vector, int(limit), filter)
			if err != nil {
				return err
			}

			w := c.Root().Writer
			if len(matches) == 0 {
				fmt.Fprintln(w, "No matching memories found")
				return nil
			}
			for _, m := range matches {
				payload, err := model.DecodeKnowledge(m.Payload)
				if err != nil {
					fmt.Fprintf(w, "%d  score=%.3f  <undecodable payload: %v>\n", m.ID, m.Score, err)
					continue
				}
				fmt.Fprintf(w, "%d  score=%.3f  %s\n", m.ID, m.Score, payload.Text)
				fmt.Fprintf(w, "    confidence=%.2f  source=%s  stored=%s\n",
					payload.Confidence, payload.QualitySource,
					payload.Timestamp.Format(time.RFC3339))
			}
			return nil
		},
	}
}
