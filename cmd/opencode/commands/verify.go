package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ndc-agent/agent/internal/storage"
	"github.com/ndc-agent/agent/internal/verifier"
)

var verifyDir string

var verifyCmd = &cobra.Command{
	Use:   "verify <task-id>",
	Short: "Run the Task Verifier's gold-memory feedback loop against a persisted task",
	Long: `Runs spec.md §4.6's verify_and_track against the task stored under
<directory>/.ndc-agent/agent.db: if the task's state is not Completed, or
any recorded step failed, the verifier upserts a deduplicated invariant
into the gold-memory store and prints a continuation prompt.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyDir, "directory", "", "Project directory (default: current directory)")
}

func runVerify(cmd *cobra.Command, args []string) error {
	dir, err := workDir(verifyDir)
	if err != nil {
		return err
	}

	sqlite, err := storage.NewSQLiteStore(stateDBPath(dir))
	if err != nil {
		return fmt.Errorf("open task store: %w", err)
	}
	defer sqlite.Close()

	tv := verifier.New(sqlite).WithGoldMemory(verifier.NewGoldMemoryService())

	taskID := args[0]
	result, err := tv.VerifyAndTrack(cmd.Context(), taskID)
	if err != nil {
		return fmt.Errorf("verify_and_track: %w", err)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"kind":   result.Kind,
		"reason": result.Reason,
	}, "", "  ")
	fmt.Println(string(out))

	if !result.IsSuccess() {
		fmt.Println()
		fmt.Println(verifier.GenerateContinuationPrompt(result))
	}

	return nil
}
