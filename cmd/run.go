package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Nitinref/R8R-sub001/pkg/pipeline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	definitionFlag string
	queryFlag      string
	userFlag       string

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline definition once from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(definitionFlag)
			if err != nil {
				return fmt.Errorf("failed to read definition: %w", err)
			}

			var def pipeline.Definition

			if err := json.Unmarshal(raw, &def); err != nil {
				return fmt.Errorf("failed to parse definition: %w", err)
			}

			orch := buildOrchestrator()
			embedder := buildEmbedder()

			executorOptions := []pipeline.ExecutorOption{}

			for _, rtvr := range buildRetrievers(embedder) {
				executorOptions = append(executorOptions, pipeline.WithRetriever(rtvr))
			}

			if viper.GetBool("memory.enabled") && embedder != nil {
				executorOptions = append(executorOptions, pipeline.WithMemoryManager(
					buildMemories(orch, embedder),
				))
			}

			runner := pipeline.NewRunner(
				pipeline.NewStepExecutor(orch, executorOptions...),
				pipeline.WithMaxConcurrency(viper.GetInt("engine.maxConcurrency")),
			)

			ctx := cmd.Context()

			if timeout := viper.GetInt("engine.runTimeoutSeconds"); timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(
					ctx, time.Duration(timeout)*time.Second,
				)
				defer cancel()
			}

			response, err := runner.Run(ctx, &def, pipeline.RunRequest{
				Query:  queryFlag,
				UserID: userFlag,
			})

			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(response, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(out))
			return nil
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&definitionFlag, "file", "f", "pipeline.json", "Pipeline definition file")
	runCmd.Flags().StringVarP(&queryFlag, "query", "q", "", "Query to run through the pipeline")
	runCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User scope for memory operations")

	_ = runCmd.MarkFlagRequired("query")
}
