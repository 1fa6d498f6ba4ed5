package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/service/embedding"
	"github.com/aethonlab/mnemo/pkg/service/mcp"
	"github.com/aethonlab/mnemo/pkg/usecase/reflection"
)

func mcpCommand() *cli.Command {
	var (
		cfg     config
		userID  string
		project string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "user",
			Usage:       "User ID attached to stored memories",
			Sources:     cli.EnvVars("MNEMO_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "project",
			Usage:       "Project ID attached to stored memories",
			Sources:     cli.EnvVars("MNEMO_PROJECT_ID"),
			Destination: &project,
		},
	}
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the memory subsystem as MCP tools over stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			dual, err := cfg.newDual(ctx)
			if err != nil {
				return err
			}
			defer dual.Disconnect()

			embedder, gemini, err := cfg.newEmbedder(ctx, dual)
			if err != nil {
				return err
			}
			defer embedder.Close()

			session := model.SessionMeta{UserID: userID, ProjectID: project}
			availability := embedding.NewAvailability()

			engine := newEngine(&cfg, dual, embedder, gemini, availability, session)
			refl := reflection.New(dual, embedder, availability)

			server := mcp.New(engine, refl, dual, embedder.Embed)
			return server.Run(ctx)
		},
	}
}
