package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Nitinref/R8R-sub001/pkg/cache"
	"github.com/Nitinref/R8R-sub001/pkg/memory"
	"github.com/Nitinref/R8R-sub001/pkg/pipeline"
	"github.com/Nitinref/R8R-sub001/pkg/provider"
	"github.com/Nitinref/R8R-sub001/pkg/retrieval"
	"github.com/Nitinref/R8R-sub001/pkg/service"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	portFlag int
	hostFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline engine HTTP API",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := buildOrchestrator()
			embedder := buildEmbedder()

			executorOptions := []pipeline.ExecutorOption{}

			for _, rtvr := range buildRetrievers(embedder) {
				executorOptions = append(executorOptions, pipeline.WithRetriever(rtvr))
			}

			var memories *memory.Manager

			if viper.GetBool("memory.enabled") && embedder != nil {
				memories = buildMemories(orch, embedder)
				executorOptions = append(
					executorOptions, pipeline.WithMemoryManager(memories),
				)
			}

			executor := pipeline.NewStepExecutor(orch, executorOptions...)

			runnerOptions := []pipeline.RunnerOption{
				pipeline.WithMaxConcurrency(viper.GetInt("engine.maxConcurrency")),
			}

			if timeout := viper.GetInt("engine.runTimeoutSeconds"); timeout > 0 {
				runnerOptions = append(runnerOptions, pipeline.WithRunTimeout(
					time.Duration(timeout)*time.Second,
				))
			}

			if viper.GetBool("cache.enabled") {
				runnerOptions = append(runnerOptions, pipeline.WithCache(
					cache.NewInMemoryResultCache(),
				))
			}

			runner := pipeline.NewRunner(executor, runnerOptions...)

			serverOptions := []service.ServerOption{
				service.WithAddr(fmt.Sprintf("%s:%d", hostFlag, portFlag)),
			}

			if memories != nil {
				serverOptions = append(serverOptions, service.WithMemories(memories))
			}

			return service.NewServer(runner, orch, serverOptions...).Start()
		},
	}
)

/*
buildOrchestrator registers every LLM provider whose credentials are
present in the environment. Providers without credentials stay
unregistered so a misconfigured model reference fails the attempt
instead of the boot.
*/
func buildOrchestrator() *provider.Orchestrator {
	options := []provider.OrchestratorOption{}

	if backoff := viper.GetInt("engine.backoffMs"); backoff > 0 {
		options = append(options, provider.WithBackoff(
			time.Duration(backoff)*time.Millisecond,
		))
	}

	if os.Getenv("OPENAI_API_KEY") != "" {
		options = append(options, provider.WithProvider(provider.NewOpenAIProvider()))
	}

	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		options = append(options, provider.WithProvider(provider.NewAnthropicProvider()))
	}

	if os.Getenv("CO_API_KEY") != "" {
		options = append(options, provider.WithProvider(provider.NewCohereProvider()))
	}

	if os.Getenv("DEEPSEEK_API_KEY") != "" {
		options = append(options, provider.WithProvider(provider.NewDeepseekProvider()))
	}

	if os.Getenv("GEMINI_API_KEY") != "" {
		options = append(options, provider.WithProvider(provider.NewGoogleProvider()))
	}

	if os.Getenv("OLLAMA_HOST") != "" {
		options = append(options, provider.WithProvider(provider.NewOllamaProvider()))
	}

	return provider.NewOrchestrator(options...)
}

func buildEmbedder() provider.Embedder {
	if os.Getenv("OPENAI_API_KEY") != "" {
		return provider.NewOpenAIEmbedder()
	}

	if os.Getenv("CO_API_KEY") != "" {
		return provider.NewCohereEmbedder()
	}

	if os.Getenv("OLLAMA_HOST") != "" {
		return provider.NewOllamaEmbedder()
	}

	log.Warn("no embedding provider configured, vector features disabled")
	return nil
}

func buildRetrievers(embedder provider.Embedder) []retrieval.Retriever {
	if embedder == nil {
		return nil
	}

	retrievers := []retrieval.Retriever{}

	for name := range viper.GetStringMap("retrievers") {
		prefix := "retrievers." + name

		retrievers = append(retrievers, retrieval.NewVectorRetriever(
			name,
			embedder,
			retrieval.WithVectorBaseURL(viper.GetString(prefix+".endpoint")),
			retrieval.WithVectorCollection(viper.GetString(prefix+".collection")),
		))

		log.Info("registered retriever", "name", name)
	}

	return retrievers
}

func buildMemories(
	orch *provider.Orchestrator, embedder provider.Embedder,
) *memory.Manager {
	var index memory.VectorIndex

	switch viper.GetString("memory.backend") {
	case "qdrant":
		index = memory.NewQdrantIndex(
			viper.GetString("memory.endpoint"),
			viper.GetString("memory.collection"),
		)
	default:
		index = memory.NewInMemoryIndex()
	}

	options := []memory.ManagerOption{memory.WithOrchestrator(orch)}

	if model := viper.GetString("memory.summarizer.model"); model != "" {
		options = append(options, memory.WithSummaryModel(provider.ModelRef{
			Provider: viper.GetString("memory.summarizer.provider"),
			Model:    model,
		}))
	}

	return memory.NewManager(index, embedder, options...)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 3210, "Port to serve on")
	serveCmd.Flags().StringVarP(&hostFlag, "host", "H", "0.0.0.0", "Host address to bind to")
}

var longServe = `
Start the HTTP API. Pipelines are registered over POST /pipelines and
executed over POST /pipelines/:id/run; memory operations live under
/memory. Providers are picked up from environment credentials.
`
