package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/service/embedding"
	"github.com/aethonlab/mnemo/pkg/usecase/memory"
)

func rememberCommand() *cli.Command {
	var (
		cfg     config
		input   string
		userID  string
		project string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to a text file with interaction content, or - for stdin",
			Destination: &input,
		},
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
		Name:      "remember",
		Usage:     "Extract and store memories from interaction text",
		ArgsUsage: "[text...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			text, err := readInput(c, input)
			if err != nil {
				return err
			}
			if text == "" {
				return goerr.New("no input text; pass text as arguments or via --input")
			}

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

			engine := newEngine(&cfg, dual, embedder, gemini, embedding.NewAvailability(), model.SessionMeta{
				UserID:    userID,
				ProjectID: project,
			})

			result, err := engine.ProcessText(ctx, text)
			if err != nil {
				return err
			}

			printResult(c.Root().Writer, result)
			return nil
		},
	}
}

func readInput(c *cli.Command, input string) (string, error) {
	if args := c.Args().Slice(); len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if input == "" {
		return "", nil
	}

	var r io.Reader
	if input == "-" {
		r = os.Stdin
	} else {
		f, err := os.Open(input)
		if err != nil {
			return "", goerr.Wrap(err, "failed to open input file", goerr.V("path", input))
		}
		defer f.Close()
		r = f
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read input")
	}
	return string(raw), nil
}

func printResult(w io.Writer, result *memory.Result) {
	for _, d := range result.Decisions {
		status := string(d.Event)
		switch {
		case d.Skipped:
			status = "SKIP"
		case !d.Persisted && d.Event != model.EventNone:
			status = status + " (not persisted)"
		}
		fmt.Fprintf(w, "%-20s %s\n", status, d.Fact)
		if d.Reason != "" {
			fmt.Fprintf(w, "%-20s   reason: %s\n", "", d.Reason)
		}
	}
	fmt.Fprintf(w, "\nprocessed=%d skipped=%d failed=%d", result.Processed, result.Skipped, result.Failed)
	if result.Degraded {
		fmt.Fprint(w, " (degraded: embeddings unavailable)")
	}
	fmt.Fprintln(w)
}
