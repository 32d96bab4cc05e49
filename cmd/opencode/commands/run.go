package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ndc-agent/agent/internal/agent"
	"github.com/ndc-agent/agent/internal/event"
	"github.com/ndc-agent/agent/internal/permission"
	"github.com/ndc-agent/agent/internal/provider"
	"github.com/ndc-agent/agent/internal/session"
	"github.com/ndc-agent/agent/internal/storage"
	"github.com/ndc-agent/agent/internal/tool"
	"github.com/ndc-agent/agent/internal/verifier"
)

var (
	runModel         string
	runDir           string
	runSessionID     string
	runTaskID        string
	runAutoVerify    bool
	runMaxTools      int
	runJSON          bool
	runAgentName     string
	runWorkingMemory string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run one conversation turn through the agent engine",
	Long: `Runs spec.md §4.4's Conversation Runner for a single user turn: it
drives the LLM across rounds, executes any requested tools under the
Security Gateway and Permission Engine, optionally verifies a declared
task on completion, and prints the resulting execution events.

Examples:
  ndc-agent run "list the files in this directory"
  ndc-agent run --task task-1 --auto-verify "implement the fix"
  ndc-agent run --model anthropic/claude-sonnet-4-20250514 "explain main.go"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTurn,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory (default: current directory)")
	runCmd.Flags().StringVarP(&runSessionID, "session", "s", "default", "Session id to run in")
	runCmd.Flags().StringVar(&runTaskID, "task", "", "Active task id to verify on completion")
	runCmd.Flags().BoolVar(&runAutoVerify, "auto-verify", false, "Run the Task Verifier's gold-memory loop after this turn")
	runCmd.Flags().IntVar(&runMaxTools, "max-tool-calls", 0, "Override the per-turn tool-call cap (0 = engine default)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print execution events as newline-delimited JSON instead of text")
	runCmd.Flags().StringVar(&runAgentName, "agent", "build", "Agent profile the system prompt is built from (build|plan|general|explore)")
	runCmd.Flags().StringVar(&runWorkingMemory, "working-memory", "", "Working-memory context injected into the prompt (spec.md §4.4)")
}

func runTurn(cmd *cobra.Command, args []string) error {
	dir, err := workDir(runDir)
	if err != nil {
		return err
	}

	deps, err := buildRuntime(dir)
	if err != nil {
		return err
	}
	defer deps.Close()

	model := runModel
	providerID, modelID := provider.ParseModelString(model)
	if model == "" {
		m, err := deps.Providers.DefaultModel()
		if err != nil {
			return fmt.Errorf("no model available: %w", err)
		}
		model, providerID, modelID = m.ID, m.ProviderID, m.ID
	}

	agentProfile, err := deps.Agents.Get(runAgentName)
	if err != nil {
		return fmt.Errorf("resolve agent profile: %w", err)
	}
	systemPrompt := session.NewSystemPrompt(dir, agentProfile, providerID, modelID).Build()

	runner := &session.Runner{
		Completer:    provider.NewProviderCompleter(deps.providerFor(model)),
		Model:        model,
		Tools:        deps.Tools,
		Confirmer:    deps.PermEngine,
		Verifier:     deps.Verifier,
		Sessions:     deps.Sessions,
		Storage:      deps.Storage,
		SystemPrompt: systemPrompt,
		DoomLoop:     deps.DoomLoop,
	}

	opts := session.RunOptions{
		ActiveTaskID:  runTaskID,
		AutoVerify:    runAutoVerify,
		MaxToolCalls:  runMaxTools,
		WorkingMemory: runWorkingMemory,
	}

	message := strings.Join(args, " ")
	resp, err := runner.RunMainLoop(cmd.Context(), runSessionID, dir, message, opts)
	if err != nil {
		return fmt.Errorf("run_main_loop: %w", err)
	}

	printEvents(resp.ExecutionEvents, runJSON)

	if !runJSON {
		fmt.Println()
		fmt.Println(resp.Content)
		if resp.NeedsInput {
			fmt.Fprintln(os.Stderr, "(needs_input: true)")
		}
	}

	return nil
}

func printEvents(events []event.ExecutionEvent, asJSON bool) {
	for _, ev := range events {
		if asJSON {
			data, err := json.Marshal(ev)
			if err != nil {
				log.Error().Err(err).Msg("marshal execution event")
				continue
			}
			fmt.Println(string(data))
			continue
		}
		fmt.Fprintf(os.Stderr, "[round %d] %s: %s\n", ev.Round, ev.Kind, ev.Message)
	}
}

// runtimeDeps wires the five core subsystems the way the engine's CLI
// entrypoints need them: providers, tools, permission engine, verifier, and
// the session store, all rooted at one working directory.
type runtimeDeps struct {
	Providers  *provider.Registry
	Tools      *tool.Registry
	Agents     *agent.Registry
	PermEngine *permission.Engine
	DoomLoop   *permission.DoomLoopDetector
	Verifier   *verifier.TaskVerifier
	Sessions   *session.SessionStore
	Storage    *storage.Storage

	sqlite *storage.SQLiteStore
}

func (d *runtimeDeps) Close() {
	if d.sqlite != nil {
		_ = d.sqlite.Close()
	}
}

// providerFor resolves the provider.Provider backing a "provider/model"
// string. When the model string carries no provider prefix, or names a
// provider the registry does not hold, it falls back to the first entry of
// Providers.List(), whose order is not defined.
func (d *runtimeDeps) providerFor(model string) provider.Provider {
	providerID, _ := provider.ParseModelString(model)
	if providerID != "" {
		if p, err := d.Providers.Get(providerID); err == nil {
			return p
		}
	}
	all := d.Providers.List()
	if len(all) > 0 {
		return all[0]
	}
	return nil
}

// buildRuntime constructs the engine's dependency graph: provider registry
// from NDC_<PROVIDER>_* env vars (spec.md §6), the default tool registry
// plus the task-spawning subagent tool, a permission Engine seeded from
// NDC_SECURITY_* env vars, and a Task Verifier backed by a SQLite store
// under <dir>/.ndc-agent/agent.db.
func buildRuntime(dir string) (*runtimeDeps, error) {
	ctx := context.Background()

	cfg := provider.ConfigFromEnv()
	providerReg, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize providers: %w", err)
	}
	if len(providerReg.List()) == 0 {
		log.Warn().Msg("no LLM provider configured; set NDC_ANTHROPIC_API_KEY, NDC_OPENAI_API_KEY, or NDC_ARK_API_KEY")
	}

	stateDir := filepath.Join(dir, ".ndc-agent")
	jsonStore := storage.New(stateDir)

	toolReg := tool.DefaultRegistry(dir, jsonStore)
	agentReg := agent.NewRegistry()
	toolReg.RegisterTaskTool(agentReg)

	policy := permission.PolicyTableFromEnv([]string{
		"file_write", "file_read", "file_delete", "network",
		"shell_execute", "git_commit", "git", "task_manage",
	})
	permEngine := permission.NewEngine(policy)
	if overrides := envPreApprovals(); len(overrides) > 0 {
		permEngine.PreApprove(overrides)
	}

	sqlite, err := storage.NewSQLiteStore(stateDBPath(dir))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	tv := verifier.New(sqlite).WithGoldMemory(verifier.NewGoldMemoryService())

	return &runtimeDeps{
		Providers:  providerReg,
		Tools:      toolReg,
		Agents:     agentReg,
		PermEngine: permEngine,
		DoomLoop:   permission.NewDoomLoopDetector(),
		Verifier:   tv,
		Sessions:   session.NewSessionStore(),
		Storage:    jsonStore,
		sqlite:     sqlite,
	}, nil
}

// stateDBPath is the fixed SQLite path under a project's .ndc-agent state
// directory, shared by the run and verify commands.
func stateDBPath(dir string) string {
	return filepath.Join(dir, ".ndc-agent", "agent.db")
}

func envPreApprovals() map[string]bool {
	v, ok := os.LookupEnv("NDC_SECURITY_OVERRIDE_PERMISSIONS")
	if !ok || v == "" {
		return nil
	}
	out := map[string]bool{}
	for _, key := range strings.Split(v, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			out[key] = true
		}
	}
	return out
}
