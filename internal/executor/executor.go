// Package executor implements the CLI Executor (§4.7): spawns the external
// AI CLI with a prompt and options, running pre-flight security/dry-run/
// cooldown checks first and recording an audit trail for every invocation.
// Grounded on the teacher's exec.Command/CombinedOutput idiom
// (internal/deployment/service.go) generalized to a single external binary
// and JSON-preferred stdout parsing, with retries delegated to
// internal/retry per §4.5.
package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/aristath/claude-pilot/internal/cooldown"
	"github.com/aristath/claude-pilot/internal/corerr"
	"github.com/aristath/claude-pilot/internal/model"
	"github.com/aristath/claude-pilot/internal/retry"
	"github.com/creasty/defaults"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// DefaultExecOptions returns model.ExecOptions with every field at its
// struct-tag default (§4.7's conservative baseline), for callers that want
// sane behavior without enumerating every option.
func DefaultExecOptions() model.ExecOptions {
	opts := model.ExecOptions{}
	_ = defaults.Set(&opts)
	return opts
}

// minInvocationInterval floors the spacing between CLI spawns so a burst of
// triggered/overlapping job fires can't hammer the external binary harder
// than one launch every 500ms, independent of the Scheduler's concurrency
// cap (which bounds how many run at once, not how often new ones start).
const minInvocationInterval = 500 * time.Millisecond

// dangerousSubstrings trigger a warning (not a failure) when found in a
// prompt (§4.7).
var dangerousSubstrings = []string{"rm -rf", "sudo", "chmod 777", "mkfs", "format", "delete"}

// unsafeWorkingDirPrefixes are directories a prompt must never run under
// (§4.7).
var unsafeWorkingDirPrefixes = []string{"/bin", "/usr/bin", "/etc", "/var", "/sys", "/proc"}

const maxPromptLength = 10000

// Result is the outcome of one Invoke call.
type Result struct {
	Output  string
	Usage   *model.TokenUsage
	Audit   model.ExecutionAudit
	Retries []retry.Attempt
}

// Executor invokes the external CLI binary.
type Executor struct {
	cliPath              string
	allowSkipPermissions bool
	detector             *cooldown.Detector
	retrier              *retry.Orchestrator
	limiter              *rate.Limiter
	log                  zerolog.Logger
}

// New builds an Executor. allowSkipPermissions mirrors the explicit opt-in
// environment variable gate described in §4.7's security check.
func New(cliPath string, allowSkipPermissions bool, detector *cooldown.Detector, retrier *retry.Orchestrator, log zerolog.Logger) *Executor {
	return &Executor{
		cliPath:              cliPath,
		allowSkipPermissions: allowSkipPermissions,
		detector:             detector,
		retrier:              retrier,
		limiter:              rate.NewLimiter(rate.Every(minInvocationInterval), 1),
		log:                  log.With().Str("component", "executor").Logger(),
	}
}

// Invoke runs prompt through the CLI per opts, performing every pre-flight
// check and recording one audit record (§4.7).
func (e *Executor) Invoke(ctx context.Context, prompt string, opts model.ExecOptions) (*Result, error) {
	audit := model.ExecutionAudit{
		Timestamp:    time.Now(),
		PromptSHA256: sha256Hex(prompt),
		Options:      opts,
	}

	security := e.securityCheck(prompt, opts)
	audit.SecurityInfo = security
	if !security.IsPassed {
		audit.Result = model.AuditSecurityBlocked
		audit.EndedAt = time.Now()
		return &Result{Audit: audit}, &corerr.SecurityBlockedError{Result: &security}
	}

	if opts.DryRun {
		cmdline := e.buildArgs(prompt, opts)
		audit.Result = model.AuditSuccess
		audit.StartedAt = time.Now()
		audit.EndedAt = audit.StartedAt
		audit.OutputLength = len(cmdline)
		return &Result{Output: "dry-run: " + strings.Join(append([]string{e.cliPath}, cmdline...), " "), Audit: audit}, nil
	}

	if e.detector != nil {
		info, err := e.detector.CheckViaDiagnostic(ctx)
		if err == nil && info.IsCooling {
			if opts.WaitOnCooldown {
				if werr := e.detector.SmartWait(ctx, info, cooldown.RealSleep); werr != nil {
					return nil, werr
				}
			} else {
				audit.Result = model.AuditFailed
				audit.EndedAt = time.Now()
				return &Result{Audit: audit}, &corerr.CooldownError{Info: info}
			}
		}
	}

	audit.StartedAt = time.Now()

	var output string
	var usage *model.TokenUsage
	policy := retry.DefaultPolicy()
	if opts.MaxRetries > 0 {
		policy.MaxAttempts = opts.MaxRetries
	}
	policy.CooldownAware = opts.CooldownAware

	runOnce := func(ctx context.Context) error {
		out, usg, err := e.run(ctx, prompt, opts)
		if err != nil {
			return err
		}
		output = out
		usage = usg
		return nil
	}

	var retryResult retry.Result
	if e.retrier != nil {
		retryResult = e.retrier.Execute(ctx, policy, cooldown.RealSleep, runOnce)
	} else {
		retryResult.Err = runOnce(ctx)
	}

	audit.EndedAt = time.Now()
	if retryResult.Err != nil {
		audit.ErrorMessage = retryResult.Err.Error()
		switch {
		case ctx.Err() == context.Canceled:
			audit.Result = model.AuditCancelled
		case corerr.KindOf(retryResult.Err) == corerr.Timeout:
			audit.Result = model.AuditTimeout
		default:
			audit.Result = model.AuditFailed
		}
		return &Result{Audit: audit, Retries: retryResult.History}, retryResult.Err
	}

	audit.Result = model.AuditSuccess
	audit.OutputLength = len(output)
	return &Result{Output: output, Usage: usage, Audit: audit, Retries: retryResult.History}, nil
}

// securityCheck implements §4.7's pre-flight ordering: hard failures first,
// then warnings that do not block.
func (e *Executor) securityCheck(prompt string, opts model.ExecOptions) model.SecurityCheckResult {
	res := model.SecurityCheckResult{IsPassed: true, Risk: model.RiskLow}

	if opts.SkipPermissions && !e.allowSkipPermissions {
		res.IsPassed = false
		res.Errors = append(res.Errors, "skip_permissions requested without CLAUDE_ALLOW_SKIP_PERMISSIONS opt-in")
		res.Risk = model.RiskCritical
	}

	if opts.WorkingDirectory != "" {
		if isUnsafeWorkingDir(opts.WorkingDirectory) {
			res.IsPassed = false
			res.Errors = append(res.Errors, fmt.Sprintf("working directory %q is not permitted", opts.WorkingDirectory))
			if res.Risk != model.RiskCritical {
				res.Risk = model.RiskHigh
			}
		}
	}

	lower := strings.ToLower(prompt)
	for _, s := range dangerousSubstrings {
		if strings.Contains(lower, s) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("prompt contains %q", s))
			if res.Risk == model.RiskLow {
				res.Risk = model.RiskMedium
			}
		}
	}
	if len(prompt) > maxPromptLength {
		res.Warnings = append(res.Warnings, "prompt exceeds 10000 characters")
		if res.Risk == model.RiskLow {
			res.Risk = model.RiskMedium
		}
	}
	if len(opts.AllowedOperations) == 0 {
		res.Warnings = append(res.Warnings, "allowed_operations is empty")
		if res.Risk == model.RiskLow {
			res.Risk = model.RiskMedium
		}
	}

	return res
}

func isUnsafeWorkingDir(dir string) bool {
	if dir == "/" || strings.Contains(dir, "..") {
		return true
	}
	for _, prefix := range unsafeWorkingDirPrefixes {
		if strings.HasPrefix(dir, prefix) {
			return true
		}
	}
	return false
}

func (e *Executor) buildArgs(prompt string, opts model.ExecOptions) []string {
	args := []string{"-p", prompt}
	if opts.OutputFormat == "json" {
		args = append(args, "--output-format", "json")
	}
	if opts.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}
	if opts.WorkingDirectory != "" {
		args = append(args, "--cwd", opts.WorkingDirectory)
	}
	return args
}

// cliResponse is the expected JSON shape of a successful invocation's
// stdout (§4.7 "expected field completion").
type cliResponse struct {
	Completion string `json:"completion"`
	Usage      *struct {
		InputTokens  int64   `json:"input_tokens"`
		OutputTokens int64   `json:"output_tokens"`
		TotalTokens  int64   `json:"total_tokens"`
		CostUSD      float64 `json:"cost_usd"`
	} `json:"usage"`
}

func (e *Executor) run(ctx context.Context, prompt string, opts model.ExecOptions) (string, *model.TokenUsage, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", nil, corerr.Wrap(corerr.Cancelled, "invocation rate wait cancelled", err)
	}

	args := e.buildArgs(prompt, opts)

	runCtx := ctx
	var cancel context.CancelFunc
	if opts.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, e.cliPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return "", nil, corerr.Wrap(corerr.Timeout, "cli invocation timed out", err)
		}
		if cd := e.detectorOrNil(stderr.String()); cd != nil && cd.IsCooling {
			return "", nil, &corerr.CooldownError{Info: cd}
		}
		return "", nil, corerr.Wrap(corerr.System, "cli invocation failed: "+strings.TrimSpace(stderr.String()), err)
	}

	raw := strings.TrimSpace(stdout.String())
	var resp cliResponse
	if jsonErr := json.Unmarshal([]byte(raw), &resp); jsonErr == nil && resp.Completion != "" {
		var usage *model.TokenUsage
		if resp.Usage != nil {
			usage = &model.TokenUsage{
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
				TotalTokens:  resp.Usage.TotalTokens,
				CostUSD:      resp.Usage.CostUSD,
			}
		}
		return resp.Completion, usage, nil
	}
	return raw, nil, nil
}

func (e *Executor) detectorOrNil(stderr string) *model.CooldownInfo {
	if e.detector == nil {
		return nil
	}
	return e.detector.Detect(stderr)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
