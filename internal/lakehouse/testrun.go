package lakehouse

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ShayCichocki/lakeforge/internal/exec"
	"github.com/ShayCichocki/lakeforge/internal/state"
)

// MaxTestOutput bounds the tool output returned and recorded per test run.
const MaxTestOutput = 4000

// ErrToolMissing is returned when the test tool is not installed.
var ErrToolMissing = errors.New("test tool not found")

type runTestsArgs struct {
	TestType string `json:"test_type" jsonschema:"enum=pytest,enum=dbt_test,enum=great_expectations"`
	Target   string `json:"target" jsonschema_description:"Test target path or table"`
}

type runTestsResult struct {
	TestType string `json:"test_type"`
	Target   string `json:"target"`
	Passed   bool   `json:"passed"`
	ExitCode int    `json:"exit_code"`
	Failures int    `json:"failures"`
	TimedOut bool   `json:"timed_out,omitempty"`
	Output   string `json:"output"`
}

var failureCountRes = []*regexp.Regexp{
	regexp.MustCompile(`(\d+) failed`),  // pytest
	regexp.MustCompile(`\bERROR=(\d+)`), // dbt
	regexp.MustCompile(`\bFAIL=(\d+)`),  // dbt
	regexp.MustCompile(`(\d+) of \d+ expectations? failed`),
}

// testCommand maps a test type onto the tool and arguments that run it.
func testCommand(testType, target string) (string, []string, error) {
	switch testType {
	case "pytest":
		return "pytest", []string{"-q", target}, nil
	case "dbt_test":
		return "dbt", []string{"test", "--select", target}, nil
	case "great_expectations":
		return "great_expectations", []string{"checkpoint", "run", target}, nil
	default:
		return "", nil, fmt.Errorf("unknown test type %q", testType)
	}
}

func (k *Toolkit) runTests(ctx context.Context, in runTestsArgs) (any, error) {
	target := strings.TrimSpace(in.Target)
	if target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if strings.HasPrefix(target, "-") {
		return nil, fmt.Errorf("target %q looks like a flag", target)
	}
	tool, args, err := testCommand(in.TestType, target)
	if err != nil {
		return nil, err
	}
	if _, err := k.env.Commands.LookPath(tool); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrToolMissing, tool, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, k.env.TestTimeout)
	defer cancel()

	log := k.env.Logger.With().Str("test_type", in.TestType).Str("target", target).Logger()
	log.Debug().Msg("running tests")

	out, runErr := k.env.Commands.Run(runCtx, k.env.RepoDir, tool, args...)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	res := &runTestsResult{
		TestType: in.TestType,
		Target:   target,
		ExitCode: exec.ExitCode(runErr),
		Output:   tail(string(out), MaxTestOutput),
	}
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.ExitCode = -1
	case runErr != nil && res.ExitCode < 0:
		return nil, fmt.Errorf("run %s: %w", tool, runErr)
	}
	res.Passed = runErr == nil && !res.TimedOut
	res.Failures = countFailures(string(out))
	if !res.Passed && res.Failures == 0 {
		res.Failures = 1
	}

	rec := &state.TestRun{
		TestType: in.TestType,
		Target:   target,
		Passed:   res.Passed,
		ExitCode: res.ExitCode,
		Output:   res.Output,
	}
	if err := k.env.Store.RecordTestRun(rec); err != nil {
		log.Warn().Err(err).Msg("record test run failed")
	}

	log.Info().Bool("passed", res.Passed).Int("exit_code", res.ExitCode).Int("failures", res.Failures).Msg("tests finished")
	return res, nil
}

// countFailures sums every failure count the tool reported.
func countFailures(output string) int {
	total := 0
	for _, re := range failureCountRes {
		for _, m := range re.FindAllStringSubmatch(output, -1) {
			n, _ := strconv.Atoi(m[1])
			total += n
		}
	}
	return total
}

// tail keeps the last n bytes of s, where test tools print their summary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
