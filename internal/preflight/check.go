package preflight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// MinFileDescriptors is the minimum recommended open file limit.
const MinFileDescriptors = 1024

// CheckStatus represents the result of a preflight check.
type CheckStatus int

const (
	// StatusPass indicates the check passed.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a non-critical warning.
	StatusWarn
	// StatusFail indicates the check failed.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "????"
	}
}

// CheckResult holds the result of a single check.
type CheckResult struct {
	Name     string      `json:"name"`
	Status   CheckStatus `json:"status"`
	Message  string      `json:"message"`
	Details  string      `json:"details,omitempty"`
	Required bool        `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Targets names what the checks look at.
type Targets struct {
	DataDir        string
	UserConfigPath string
	MinFreeBytes   uint64
}

// Checker runs the doctor checks.
type Checker struct {
	verbose bool
	output  io.Writer
	rlimit  func() (uint64, error)
}

// Option configures a Checker.
type Option func(*Checker)

// WithVerbose prints check details.
func WithVerbose(verbose bool) Option {
	return func(c *Checker) { c.verbose = verbose }
}

// WithOutput sets the output writer.
func WithOutput(w io.Writer) Option {
	return func(c *Checker) { c.output = w }
}

// New creates a Checker.
func New(opts ...Option) *Checker {
	c := &Checker{
		output: os.Stdout,
		rlimit: openFileLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunAll runs every check against t.
func (c *Checker) RunAll(ctx context.Context, t Targets) []CheckResult {
	return []CheckResult{
		c.CheckDiskSpace(ctx, NewDiskProbe(t.DataDir, t.MinFreeBytes)),
		c.CheckWritePermissions(t.DataDir),
		c.CheckFileDescriptors(),
		c.CheckUserConfig(t.UserConfigPath),
	}
}

// HasCriticalFailures returns true if any required check failed.
func (c *Checker) HasCriticalFailures(results []CheckResult) bool {
	for _, r := range results {
		if r.IsCritical() {
			return true
		}
	}
	return false
}

// SummaryStatus returns "failed", "ready_with_warnings" or "ready".
func (c *Checker) SummaryStatus(results []CheckResult) string {
	status := "ready"
	for _, r := range results {
		if r.IsCritical() {
			return "failed"
		}
		if r.Status == StatusWarn || r.Status == StatusFail {
			status = "ready_with_warnings"
		}
	}
	return status
}

// PrintResults prints check results to the configured output.
func (c *Checker) PrintResults(results []CheckResult) {
	_, _ = fmt.Fprintln(c.output, "SwiftSearch System Check")
	_, _ = fmt.Fprintln(c.output, "========================")
	_, _ = fmt.Fprintln(c.output)

	for _, r := range results {
		_, _ = fmt.Fprintf(c.output, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
		if c.verbose && r.Details != "" {
			_, _ = fmt.Fprintf(c.output, "      %s\n", r.Details)
		}
	}

	_, _ = fmt.Fprintln(c.output)
	_, _ = fmt.Fprintf(c.output, "Status: %s\n", strings.ToUpper(c.SummaryStatus(results)))
}

// CheckWritePermissions checks that the data directory, or its nearest
// existing parent, accepts new files.
func (c *Checker) CheckWritePermissions(dir string) CheckResult {
	result := CheckResult{
		Name:     "write_permissions",
		Required: true,
		Details:  dir,
	}

	target := existingAncestor(dir)
	f, err := os.CreateTemp(target, ".swiftsearch-doctor-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("cannot write to %s: %v", target, err)
		return result
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	result.Status = StatusPass
	result.Message = "OK"
	return result
}

// CheckFileDescriptors checks the open file limit.
func (c *Checker) CheckFileDescriptors() CheckResult {
	result := CheckResult{
		Name: "file_descriptors",
	}

	limit, err := c.rlimit()
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("failed to read open file limit: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("%d (recommended: %d)", limit, MinFileDescriptors)
	if limit < MinFileDescriptors {
		result.Status = StatusWarn
		result.Details = fmt.Sprintf("Run 'ulimit -n %d' before starting the host", MinFileDescriptors*4)
		return result
	}
	result.Status = StatusPass
	return result
}

// CheckUserConfig checks that the user config document is a JSON object.
// A missing document is fine; it is created on first use.
func (c *Checker) CheckUserConfig(path string) CheckResult {
	result := CheckResult{
		Name:     "user_config",
		Details:  filepath.Clean(path),
		Required: true,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		result.Status = StatusPass
		result.Message = "not created yet"
		return result
	case err != nil:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("unreadable: %v", err)
		return result
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		result.Status = StatusWarn
		result.Message = "corrupt; it will be reset on next access"
		if err != nil {
			result.Message = fmt.Sprintf("corrupt (%v); it will be reset on next access", err)
		}
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d user(s)", len(doc))
	return result
}

func openFileLimit() (uint64, error) {
	var rLimit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return 0, err
	}
	return rLimit.Cur, nil
}
