package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/aethonlab/mnemo/pkg/adapter"
	"github.com/aethonlab/mnemo/pkg/model"
	"github.com/aethonlab/mnemo/pkg/service/embedding"
	"github.com/aethonlab/mnemo/pkg/usecase/memory"
	"github.com/aethonlab/mnemo/pkg/vectorstore"

	// Backend drivers register themselves on import
	_ "github.com/aethonlab/mnemo/pkg/vectorstore/chromem"
	_ "github.com/aethonlab/mnemo/pkg/vectorstore/firestorevec"
	_ "github.com/aethonlab/mnemo/pkg/vectorstore/redisstore"
	_ "github.com/aethonlab/mnemo/pkg/vectorstore/sqlite"
)

// config holds configuration values
type config struct {
	// Store
	configFile           string
	backend              string
	address              string
	credentials          string
	database             string
	collection           string
	reflectionCollection string
	dimension            int64
	maxVectors           int64

	// Adapters
	geminiProject  string
	geminiLocation string
	useLLM         bool
}

// storeFlags returns the vector store flags with destination config
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"f"},
			Usage:       "Path to YAML store configuration file",
			Sources:     cli.EnvVars("MNEMO_CONFIG"),
			Destination: &cfg.configFile,
		},
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "Vector store backend (chromem, sqlite, redis, firestore)",
			Sources:     cli.EnvVars("MNEMO_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "address",
			Usage:       "Backend address (redis host:port, sqlite file path, firestore project ID)",
			Sources:     cli.EnvVars("MNEMO_ADDRESS"),
			Destination: &cfg.address,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Path to backend credentials file",
			Sources:     cli.EnvVars("MNEMO_CREDENTIALS"),
			Destination: &cfg.credentials,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Backend database (redis DB number, firestore database ID)",
			Sources:     cli.EnvVars("MNEMO_DATABASE"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "collection",
			Aliases:     []string{"c"},
			Usage:       "Knowledge collection name (default: memories)",
			Sources:     cli.EnvVars("MNEMO_COLLECTION"),
			Destination: &cfg.collection,
		},
		&cli.StringFlag{
			Name:        "reflection-collection",
			Usage:       "Reflection collection name (empty disables reasoning trace storage)",
			Sources:     cli.EnvVars("MNEMO_REFLECTION_COLLECTION"),
			Destination: &cfg.reflectionCollection,
		},
		&cli.IntFlag{
			Name:        "dimension",
			Usage:       "Embedding vector dimension (default: 768)",
			Sources:     cli.EnvVars("MNEMO_DIMENSION"),
			Destination: &cfg.dimension,
		},
		&cli.IntFlag{
			Name:        "max-vectors",
			Usage:       "Capacity limit for the embedded backend (default: 100000)",
			Sources:     cli.EnvVars("MNEMO_MAX_VECTORS"),
			Destination: &cfg.maxVectors,
		},
	}
}

// llmFlags returns flags for Gemini configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.BoolFlag{
			Name:        "use-llm",
			Usage:       "Use the LLM for memory classification instead of heuristics alone",
			Sources:     cli.EnvVars("MNEMO_USE_LLM"),
			Destination: &cfg.useLLM,
		},
	}
}

// storeConfig assembles the vector store configuration. A config file
// provides the base, flags override whatever they set explicitly.
func (cfg *config) storeConfig() (vectorstore.Config, error) {
	var sc vectorstore.Config
	if cfg.configFile != "" {
		loaded, err := vectorstore.LoadConfigFile(cfg.configFile)
		if err != nil {
			return sc, err
		}
		sc = *loaded
	}

	if cfg.backend != "" {
		sc.Backend = vectorstore.Backend(cfg.backend)
	}
	if cfg.address != "" {
		sc.Address = cfg.address
	}
	if cfg.credentials != "" {
		sc.Credentials = cfg.credentials
	}
	if cfg.database != "" {
		sc.Database = cfg.database
	}
	if cfg.collection != "" {
		sc.Collection = cfg.collection
	}
	if cfg.dimension > 0 {
		sc.Dimension = int(cfg.dimension)
	}
	if cfg.maxVectors > 0 {
		sc.MaxVectors = int(cfg.maxVectors)
	}
	if sc.Collection == "" {
		sc.Collection = "memories"
	}
	return sc, nil
}

// newDual builds and connects both collections
func (cfg *config) newDual(ctx context.Context) (*vectorstore.DualManager, error) {
	sc, err := cfg.storeConfig()
	if err != nil {
		return nil, err
	}

	dual, err := vectorstore.NewDualManager(sc, cfg.reflectionCollection)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create store")
	}
	if err := dual.Connect(ctx); err != nil {
		return nil, goerr.Wrap(err, "failed to connect store")
	}
	return dual, nil
}

// newGemini creates a new Gemini adapter instance. The embedding
// dimension follows the connected store so vectors always fit the
// collection.
func (cfg *config) newGemini(ctx context.Context, dimension int) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	var opts []adapter.GeminiOption
	if dimension > 0 {
		opts = append(opts, adapter.WithDimensions(dimension))
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
}

// newEngine wires the decision engine. With --use-llm the LLM classifier
// runs first and the heuristics take over when it fails.
func newEngine(cfg *config, dual *vectorstore.DualManager, embedder adapter.Embedder, llm adapter.LLM, availability *embedding.Availability, session model.SessionMeta) *memory.Engine {
	opts := []memory.Option{memory.WithSession(session)}
	if cfg.useLLM {
		opts = append(opts, memory.WithClassifier(memory.NewFallbackClassifier(
			memory.NewLLMClassifier(llm),
			memory.NewHeuristicClassifier(0),
		)))
	}
	return memory.New(dual, embedder, availability, opts...)
}

// newEmbedder creates a Gemini embedder behind the in-process cache
func (cfg *config) newEmbedder(ctx context.Context, dual *vectorstore.DualManager) (*adapter.CachedEmbedder, *adapter.GeminiClient, error) {
	dimension := dual.Store(model.KindKnowledge).Config().Dimension
	gemini, err := cfg.newGemini(ctx, dimension)
	if err != nil {
		return nil, nil, err
	}
	cached, err := adapter.NewCachedEmbedder(gemini)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create embedding cache")
	}
	return cached, gemini, nil
}
