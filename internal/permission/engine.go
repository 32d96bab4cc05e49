package permission

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"github.com/ndc-agent/agent/internal/envcfg"
)

// Decision is the resolved policy value for a permission key, per spec.md
// §4.3: exact-key match, then wildcard "*", default Ask.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionAsk   Decision = "ask"
	DecisionDeny  Decision = "deny"
)

// PolicyTable resolves a permission key (e.g. "file_write", "git_commit")
// to a Decision. Lookup is exact-key first, then the wildcard "*" entry;
// an unconfigured key defaults to Ask.
type PolicyTable map[string]Decision

// Resolve implements the exact -> wildcard -> default-Ask lookup order.
func (t PolicyTable) Resolve(key string) Decision {
	if d, ok := t[key]; ok {
		return d
	}
	if d, ok := t["*"]; ok {
		return d
	}
	return DecisionAsk
}

// PolicyTableFromEnv builds a PolicyTable from the NDC_SECURITY_<ACTION>_ACTION
// environment variables named in spec.md §6 (NDC_SECURITY_GIT_COMMIT_ACTION
// and siblings), mapping a permission key like "git_commit" to the env var
// NDC_SECURITY_GIT_COMMIT_ACTION.
func PolicyTableFromEnv(keys []string) PolicyTable {
	table := PolicyTable{}
	for _, key := range keys {
		envName := "NDC_SECURITY_" + strings.ToUpper(key) + "_ACTION"
		v := envcfg.String("", envName)
		switch strings.ToLower(v) {
		case "allow":
			table[key] = DecisionAllow
		case "deny":
			table[key] = DecisionDeny
		case "ask":
			table[key] = DecisionAsk
		}
	}
	return table
}

// ApprovalScope is the breadth of an Ask approval, per spec.md §4.3.
type ApprovalScope string

const (
	ScopeOnce       ApprovalScope = "once"
	ScopeSession    ApprovalScope = "session"
	ScopePersistent ApprovalScope = "persistent"
)

// PersistentApprover persists a permission key as durably allowed. It is a
// narrow, one-method seam so internal/permission never depends on the
// (absent) configuration-file layer — satisfies spec.md §9's
// "cyclic dependencies avoided via abstract interface" note.
type PersistentApprover interface {
	PersistApproval(ctx context.Context, permissionKey string) error
}

// PermissionRequest is sent on the UI channel when an Ask decision needs a
// human's answer. Description and PermissionKey are for display; Response
// is a single-shot reply channel the Engine reads exactly once.
type PermissionRequest struct {
	Description   string
	PermissionKey string
	Response      chan PermissionResponse
}

// PermissionResponse is the human's single-shot answer to a PermissionRequest.
type PermissionResponse struct {
	Approved bool
	Scope    ApprovalScope
}

// Engine resolves {Allow,Ask,Deny} decisions per permission key and, on
// Ask, routes confirmation through whichever channel is available: an
// attached UI channel, a TTY-backed stdin prompt, or immediate non-interactive
// failure. It implements gateway.Confirmer.
type Engine struct {
	Policy PolicyTable

	// UIRequests, when non-nil, is where Ask prompts are sent; the engine
	// blocks on the per-request Response channel (or ctx) for the answer.
	UIRequests chan<- PermissionRequest

	// PersistentApprover persists Allow-persistent approvals; nil disables
	// that scope (the engine then treats a persistent choice as session-only).
	PersistentApprover PersistentApprover

	// Stdin/Stdout back the TTY fallback when no UI channel is attached.
	// Defaulted to os.Stdin/os.Stdout by NewEngine.
	Stdin  *os.File
	Stdout *os.File

	mu              sync.Mutex
	sessionApproved map[string]bool
}

// NewEngine constructs an Engine with the given policy table and the
// process's real stdin/stdout for the TTY fallback.
func NewEngine(policy PolicyTable) *Engine {
	return &Engine{
		Policy:          policy,
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		sessionApproved: make(map[string]bool),
	}
}

// PreApprove seeds the session-scoped approved set, e.g. from
// NDC_SECURITY_OVERRIDE_PERMISSIONS=<csv> at startup.
func (e *Engine) PreApprove(keys map[string]bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range keys {
		if v {
			e.sessionApproved[k] = true
		}
	}
}

// IsSessionApproved reports whether key was approved with session scope
// (or pre-approved) earlier in this engine's lifetime.
func (e *Engine) IsSessionApproved(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionApproved[key]
}

func (e *Engine) approveSession(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionApproved[key] = true
}

// ErrNonInteractive is returned when an Ask decision has no confirmation
// channel available: no UI channel attached and stdin/stdout are not both
// terminals. Its message is stable text parsed by spec.md §8 property 7.
var ErrNonInteractive = fmt.Errorf("non_interactive confirmation required")

// Confirm implements gateway.Confirmer: it resolves permissionKey against
// Policy, short-circuiting for Deny (which always wins, per spec.md §9
// "Deny always wins; session approvals never upgrade a Deny") and for the
// NDC_AUTO_APPROVE_TOOLS bypass, then asks interactively when the resolved
// decision is Ask.
func (e *Engine) Confirm(ctx context.Context, description string, permissionKey string) (bool, error) {
	decision := e.Policy.Resolve(permissionKey)
	if decision == DecisionDeny {
		return false, nil
	}
	if envcfg.AutoApproveTools(permissionKey) {
		return true, nil
	}
	if decision == DecisionAllow {
		return true, nil
	}
	if e.IsSessionApproved(permissionKey) {
		return true, nil
	}

	resp, err := e.ask(ctx, description, permissionKey)
	if err != nil {
		return false, err
	}
	if !resp.Approved {
		return false, nil
	}
	switch resp.Scope {
	case ScopeSession:
		e.approveSession(permissionKey)
	case ScopePersistent:
		e.approveSession(permissionKey)
		if e.PersistentApprover != nil {
			_ = e.PersistentApprover.PersistApproval(ctx, permissionKey)
		}
	}
	return true, nil
}

// ask routes an Ask decision to the UI channel, the TTY fallback, or fails
// fast, per spec.md §4.3.
func (e *Engine) ask(ctx context.Context, description, permissionKey string) (PermissionResponse, error) {
	if e.UIRequests != nil {
		return e.askUI(ctx, description, permissionKey)
	}
	if e.isInteractiveTerminal() {
		return e.askTerminal(ctx, description, permissionKey)
	}
	return PermissionResponse{}, ErrNonInteractive
}

func (e *Engine) askUI(ctx context.Context, description, permissionKey string) (PermissionResponse, error) {
	req := PermissionRequest{
		Description:   description,
		PermissionKey: permissionKey,
		Response:      make(chan PermissionResponse, 1),
	}

	select {
	case e.UIRequests <- req:
	case <-ctx.Done():
		return PermissionResponse{}, ctx.Err()
	}

	select {
	case resp, ok := <-req.Response:
		if !ok {
			// Dropped response channel: deny, never deadlock.
			return PermissionResponse{Approved: false}, nil
		}
		return resp, nil
	case <-ctx.Done():
		return PermissionResponse{}, ctx.Err()
	}
}

func (e *Engine) isInteractiveTerminal() bool {
	if e.Stdin == nil || e.Stdout == nil {
		return false
	}
	return term.IsTerminal(int(e.Stdin.Fd())) && term.IsTerminal(int(e.Stdout.Fd()))
}

// askTerminal prompts "[y/N]" on stdout and reads one line from stdin on a
// blocking worker, honoring ctx cancellation; "a" approves with session
// scope, "p" with persistent scope, any other affirmative is once-only.
func (e *Engine) askTerminal(ctx context.Context, description, permissionKey string) (PermissionResponse, error) {
	fmt.Fprintf(e.Stdout, "%s [y/N/a=session/p=persistent]: ", description)

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		reader := bufio.NewReader(e.Stdin)
		line, err := reader.ReadString('\n')
		ch <- result{line: line, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return PermissionResponse{}, ctx.Err()
	}
	if r.err != nil {
		return PermissionResponse{}, r.err
	}

	switch strings.ToLower(strings.TrimSpace(r.line)) {
	case "y", "yes":
		return PermissionResponse{Approved: true, Scope: ScopeOnce}, nil
	case "a", "always":
		return PermissionResponse{Approved: true, Scope: ScopeSession}, nil
	case "p", "persist":
		return PermissionResponse{Approved: true, Scope: ScopePersistent}, nil
	default:
		return PermissionResponse{Approved: false}, nil
	}
}
