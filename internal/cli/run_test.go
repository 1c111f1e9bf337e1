package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	t.Setenv("DURABLE_LOG_LEVEL", "error")
	return &RootOptions{
		Format:     format,
		Store:      "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "cli.db"),
	}
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

type inspected struct {
	ExecutionID string `json:"execution_id"`
	Records     []struct {
		Sequence int    `json:"sequence"`
		Label    string `json:"label"`
		Status   string `json:"status"`
		Attempt  int    `json:"attempt"`
	} `json:"records"`
}

func inspectJSON(t *testing.T, opts *RootOptions, execID string) inspected {
	t.Helper()
	jsonOpts := *opts
	jsonOpts.Format = "json"
	out, err := execute(NewInspectCommand(&jsonOpts), "--execution", execID)
	require.NoError(t, err)

	var got inspected
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	return got
}

func TestRunMissingName(t *testing.T) {
	opts := sqliteOptions(t, "text")

	_, err := execute(NewRunCommand(opts))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "name")
}

func TestRunUnknownStep(t *testing.T) {
	opts := sqliteOptions(t, "text")

	_, err := execute(NewRunCommand(opts), "--name", "Alice", "--crash-before", "order_pizza")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown step "order_pizza"`)
}

func TestRunCompletes(t *testing.T) {
	opts := sqliteOptions(t, "json")

	out, err := execute(NewRunCommand(opts),
		"--execution", "onboard-ok",
		"--name", "Alice Smith",
		"--manager", "bob",
		"--course", "security,benefits",
	)
	require.NoError(t, err)

	var report struct {
		ExecutionID string `json:"execution_id"`
		Outcome     string `json:"outcome"`
		Result      struct {
			Laptop      string   `json:"laptop"`
			Enrollments []string `json:"enrollments"`
			Notified    bool     `json:"notified"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "onboard-ok", report.ExecutionID)
	assert.Equal(t, "success", report.Outcome)
	assert.Equal(t, "LT-ALICE-SMITH", report.Result.Laptop)
	assert.Len(t, report.Result.Enrollments, 2)
	assert.True(t, report.Result.Notified)

	got := inspectJSON(t, opts, "onboard-ok")
	require.Len(t, got.Records, 7)
	for _, rec := range got.Records {
		assert.Equal(t, "COMPLETED", rec.Status, "step %s", rec.Label)
	}
}

func TestRunGeneratesExecutionID(t *testing.T) {
	opts := sqliteOptions(t, "json")

	out, err := execute(NewRunCommand(opts), "--name", "Carol")
	require.NoError(t, err)

	var report passReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.ExecutionID, 36)
}

func TestRunInterruptedThenResume(t *testing.T) {
	opts := sqliteOptions(t, "text")

	out, err := execute(NewRunCommand(opts),
		"--execution", "onboard-crash",
		"--name", "Dana",
		"--crash-during", "provision_laptop",
	)
	require.Error(t, err)
	assert.Equal(t, ExitInterrupted, GetExitCode(err))
	assert.Contains(t, err.Error(), "durable resume --execution onboard-crash")
	assert.Contains(t, out, "execution onboard-crash: interrupted")

	got := inspectJSON(t, opts, "onboard-crash")
	var laptop string
	for _, rec := range got.Records {
		if rec.Label == "provision_laptop" {
			laptop = rec.Status
		}
	}
	assert.Equal(t, "RUNNING", laptop)

	out, err = execute(NewResumeCommand(opts), "--execution", "onboard-crash")
	require.NoError(t, err)
	assert.Contains(t, out, "execution onboard-crash: success")
	assert.Contains(t, out, `"name": "Dana"`)

	got = inspectJSON(t, opts, "onboard-crash")
	for _, rec := range got.Records {
		assert.Equal(t, "COMPLETED", rec.Status, "step %s", rec.Label)
		if rec.Label == "provision_laptop" {
			assert.Equal(t, 2, rec.Attempt)
		}
	}
}

func TestRunStepFailure(t *testing.T) {
	opts := sqliteOptions(t, "text")

	out, err := execute(NewRunCommand(opts),
		"--execution", "onboard-fail",
		"--name", "Eve",
		"--fail", "notify_manager",
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "execution onboard-fail: step_failure")
	assert.Contains(t, out, "simulated failure in notify_manager")

	got := inspectJSON(t, opts, "onboard-fail")
	last := got.Records[len(got.Records)-1]
	assert.Equal(t, "notify_manager", last.Label)
	assert.Equal(t, "FAILED", last.Status)

	_, err = execute(NewResumeCommand(opts), "--execution", "onboard-fail")
	require.NoError(t, err)
}

func TestResumeUnknownExecution(t *testing.T) {
	opts := sqliteOptions(t, "text")

	_, err := execute(NewResumeCommand(opts), "--execution", "never-ran")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "no recorded steps")
}

func TestInspectText(t *testing.T) {
	opts := sqliteOptions(t, "text")

	_, err := execute(NewRunCommand(opts), "--execution", "onboard-txt", "--name", "Frank", "--crash-before", "create_account")
	require.Error(t, err)

	out, err := execute(NewInspectCommand(opts), "--execution", "onboard-txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out,
		"execution onboard-txt: 1 steps\n"+
			"SEQ  LABEL              STATUS     ATTEMPT  DETAIL\n"+
			`1    record_input       COMPLETED  1        {"name":"Frank"`), "unexpected output:\n%s", out)
}

func TestRunMemoryStoreWithMsgpack(t *testing.T) {
	t.Setenv("DURABLE_LOG_LEVEL", "error")
	opts := &RootOptions{Format: "text", Store: "memory", Codec: "msgpack", Verbose: true}

	errBuf := &bytes.Buffer{}
	cmd := NewRunCommand(opts)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"--name", "Grace"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, errBuf.String(), "[pass_started]")
	assert.Contains(t, errBuf.String(), "[step_completed]")
}
