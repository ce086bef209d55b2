package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/openfroyo/tfdriver/pkg/stores"
)

// fakeTool answers the handful of subcommands the tests use and appends
// every argument vector to $TFDRIVER_TEST_LOG.
const fakeTool = `#!/bin/sh
echo "$@" >> "$TFDRIVER_TEST_LOG"
case "$1" in
plan)
	echo "  + aws_instance.web"
	echo "  - aws_s3_bucket.old"
	echo "Plan: 1 to add, 0 to change, 1 to destroy."
	exit 2
	;;
apply)
	echo "Apply complete! Resources: 1 added, 0 changed, 1 destroyed."
	;;
validate)
	echo '{"valid":false,"error_count":1,"warning_count":0,"diagnostics":[{"severity":"error","summary":"Unsupported argument"}]}'
	exit 1
	;;
version)
	echo '{"terraform_version":"1.9.0","platform":"linux_amd64"}'
	;;
state)
	echo "aws_instance.web"
	;;
*)
	echo "Error: unsupported command $1" >&2
	exit 1
	;;
esac
`

type testEnv struct {
	baseDir string
	config  string
	log     string
}

func setupEnv(t *testing.T, extra string) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake tool is a shell script")
	}

	dir := t.TempDir()
	tool := filepath.Join(dir, "fake-tool")
	if err := os.WriteFile(tool, []byte(fakeTool), 0o755); err != nil {
		t.Fatalf("failed to write fake tool: %v", err)
	}

	env := &testEnv{
		baseDir: filepath.Join(dir, "base"),
		config:  filepath.Join(dir, "tfdriver.yaml"),
		log:     filepath.Join(dir, "calls.log"),
	}
	cfg := "binary: " + tool + "\n" +
		"base_dir: " + env.baseDir + "\n" +
		"stream_output: false\n" +
		"max_retries: 0\n" +
		"logging:\n  level: error\n" + extra
	if err := os.WriteFile(env.config, []byte(cfg), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	t.Setenv("TFDRIVER_TEST_LOG", env.log)
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.config}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e *testEnv) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(e.log)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("failed to read call log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestPlanCommand(t *testing.T) {
	env := setupEnv(t, "")

	out, err := env.run(t, "plan", "--namespace", "acme", "--project", "web")
	if err != nil {
		t.Fatalf("plan failed: %v\n%s", err, out)
	}
	for _, want := range []string{"aws_instance.web", "aws_s3_bucket.old", "Plan: 1 to add, 0 to change, 1 to destroy."} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	calls := env.calls(t)
	if len(calls) != 1 || !strings.HasPrefix(calls[0], "plan -no-color -input=false -detailed-exitcode") {
		t.Errorf("calls = %q", calls)
	}

	md, err := os.ReadFile(filepath.Join(env.baseDir, "workspaces", "acme", "web", "metadata.json"))
	if err != nil {
		t.Fatalf("workspace metadata not written: %v", err)
	}
	if !strings.Contains(string(md), `"last_operation": "plan"`) {
		t.Errorf("metadata = %s", md)
	}
}

func TestPlanCommandJSON(t *testing.T) {
	env := setupEnv(t, "")

	out, err := env.run(t, "plan", "--workdir", t.TempDir(), "--json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	var res struct {
		Success    bool `json:"success"`
		HasChanges bool `json:"has_changes"`
		ExitCode   int  `json:"exit_code"`
		Changes    struct {
			Create []string `json:"create"`
			Delete []string `json:"delete"`
		} `json:"changes"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if !res.Success || !res.HasChanges || res.ExitCode != 2 {
		t.Errorf("res = %+v", res)
	}
	if len(res.Changes.Create) != 1 || len(res.Changes.Delete) != 1 {
		t.Errorf("changes = %+v", res.Changes)
	}
}

func TestValidateCommandFails(t *testing.T) {
	env := setupEnv(t, "")

	out, err := env.run(t, "validate", "--workdir", t.TempDir())
	if err == nil {
		t.Fatal("expected validate to fail")
	}
	if !strings.Contains(out, "Unsupported argument") {
		t.Errorf("diagnostics not rendered:\n%s", out)
	}
	if calls := env.calls(t); len(calls) != 1 {
		t.Errorf("fatal failures must not be retried, calls = %q", calls)
	}
}

func TestVersionAndStateList(t *testing.T) {
	env := setupEnv(t, "")
	dir := t.TempDir()

	out, err := env.run(t, "version", "--workdir", dir)
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "1.9.0") || !strings.Contains(out, "linux_amd64") {
		t.Errorf("version output:\n%s", out)
	}

	out, err = env.run(t, "state", "list", "--workdir", dir)
	if err != nil {
		t.Fatalf("state list failed: %v", err)
	}
	if strings.TrimSpace(strings.Split(out, "\n")[0]) != "aws_instance.web" {
		t.Errorf("state list output:\n%s", out)
	}
}

func TestDebugToggleLogsInternalOperations(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "tfdriver.log")
	env := setupEnv(t, "  format: json\n  output: "+logFile+"\n")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("TFDRIVER_DEBUG", "")

	if _, err := env.run(t, "version", "--workdir", t.TempDir()); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	data, _ := os.ReadFile(logFile)
	if strings.Contains(string(data), `"level":"debug"`) {
		t.Fatalf("debug entries logged at level error:\n%s", data)
	}

	t.Setenv("TFDRIVER_DEBUG", "1")
	if _, err := env.run(t, "version", "--workdir", t.TempDir()); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), `"level":"debug"`) || !strings.Contains(string(data), "starting process") {
		t.Errorf("TFDRIVER_DEBUG=1 produced no debug entries:\n%s", data)
	}
}

func TestApplyRequiresApproval(t *testing.T) {
	env := setupEnv(t, "")

	if _, err := env.run(t, "apply", "--workdir", t.TempDir()); err == nil {
		t.Fatal("expected error without --auto-approve")
	}
	if calls := env.calls(t); len(calls) != 0 {
		t.Errorf("tool should not run, calls = %q", calls)
	}
}

func TestApplyPolicyGate(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantApply   bool
	}{
		{"warnings only", "staging", true},
		{"production destroy", "production", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t, "policy:\n  enabled: true\n  environment: "+tt.environment+"\n")
			dir := t.TempDir()

			out, err := env.run(t, "apply", "--workdir", dir)
			calls := env.calls(t)

			if tt.wantApply {
				if err != nil {
					t.Fatalf("apply failed: %v\n%s", err, out)
				}
				if len(calls) != 2 || calls[1] != "apply -no-color -input=false "+filepath.Join(dir, defaultPlanFile) {
					t.Errorf("calls = %q", calls)
				}
				if !strings.Contains(out, "destroy-guard") {
					t.Errorf("warning not rendered:\n%s", out)
				}
				return
			}

			if err != errPolicyDenied {
				t.Fatalf("err = %v, want errPolicyDenied", err)
			}
			if len(calls) != 1 {
				t.Errorf("apply must not run after a denial, calls = %q", calls)
			}
			if !strings.Contains(out, "production-destroy") {
				t.Errorf("violation not rendered:\n%s", out)
			}
		})
	}
}

func TestHistoryCommand(t *testing.T) {
	env := setupEnv(t, "")
	dir := t.TempDir()

	if _, err := env.run(t, "plan", "--workdir", dir); err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if _, err := env.run(t, "validate", "--workdir", dir); err == nil {
		t.Fatal("expected validate to fail")
	}

	out, err := env.run(t, "history", "--json", "--workdir", dir)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	var execs []stores.Execution
	if err := json.Unmarshal([]byte(out), &execs); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(execs) != 2 {
		t.Fatalf("got %d executions, want 2", len(execs))
	}

	out, err = env.run(t, "history", "--json", "--failed")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	execs = nil
	if err := json.Unmarshal([]byte(out), &execs); err != nil {
		t.Fatalf("history output is not JSON: %v", err)
	}
	if len(execs) != 1 || execs[0].Operation != "validate" {
		t.Errorf("failed executions = %+v", execs)
	}

	out, err = env.run(t, "history", "show", execs[0].ID)
	if err != nil {
		t.Fatalf("history show failed: %v", err)
	}
	if !strings.Contains(out, "Unsupported argument") {
		t.Errorf("history show output:\n%s", out)
	}
}

func TestWorkspaceCommands(t *testing.T) {
	env := setupEnv(t, "")
	ws := []string{"--namespace", "acme", "--site", "eu", "--project", "web"}
	want := filepath.Join(env.baseDir, "workspaces", "acme", "eu", "web")

	out, err := env.run(t, append([]string{"workspace", "path"}, ws...)...)
	if err != nil {
		t.Fatalf("workspace path failed: %v", err)
	}
	if strings.TrimSpace(out) != want {
		t.Errorf("path = %q, want %q", strings.TrimSpace(out), want)
	}
	if _, err := os.Stat(want); !os.IsNotExist(err) {
		t.Error("workspace path must not create the directory")
	}

	src := filepath.Join(t.TempDir(), "stack.yaml")
	if err := os.WriteFile(src, []byte("resource:\n  null_resource:\n    a: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := env.run(t, append([]string{"workspace", "write-config", src}, ws...)...); err != nil {
		t.Fatalf("write-config failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(want, "main.tf.json"))
	if err != nil || !strings.Contains(string(data), "null_resource") {
		t.Fatalf("rendered config = %s, %v", data, err)
	}

	if err := os.MkdirAll(filepath.Join(want, ".terraform"), 0o755); err != nil {
		t.Fatal(err)
	}
	out, err = env.run(t, append([]string{"workspace", "clean"}, ws...)...)
	if err != nil {
		t.Fatalf("workspace clean failed: %v", err)
	}
	if !strings.Contains(out, "removed .terraform") {
		t.Errorf("clean output:\n%s", out)
	}

	out, err = env.run(t, "workspace", "list", "--json")
	if err != nil {
		t.Fatalf("workspace list failed: %v", err)
	}
	if !strings.Contains(out, `"name": "acme/eu/web"`) {
		t.Errorf("list output:\n%s", out)
	}

	if _, err := env.run(t, append([]string{"workspace", "remove"}, ws...)...); err == nil {
		t.Error("remove without --yes should fail")
	}
	if _, err := env.run(t, append([]string{"workspace", "remove", "--yes"}, ws...)...); err != nil {
		t.Fatalf("workspace remove failed: %v", err)
	}
	if _, err := os.Stat(want); !os.IsNotExist(err) {
		t.Error("workspace still exists after remove")
	}

	out, err = env.run(t, "history", "audit", "--json")
	if err != nil {
		t.Fatalf("history audit failed: %v", err)
	}
	for _, action := range []string{"workspace.cleaned", "workspace.removed"} {
		if !strings.Contains(out, action) {
			t.Errorf("audit log missing %s:\n%s", action, out)
		}
	}
}

func TestFlagValidation(t *testing.T) {
	env := setupEnv(t, "")

	tests := [][]string{
		{"plan", "--workdir", "/tmp", "--namespace", "acme"},
		{"plan", "--project", "web"},
		{"workspace", "path"},
		{"destroy", "--workdir", "/tmp"},
		{"import", "aws_instance.web"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			if _, err := env.run(t, args...); err == nil {
				t.Errorf("expected error for %v", args)
			}
		})
	}
	if calls := env.calls(t); len(calls) != 0 {
		t.Errorf("tool should never run, calls = %q", calls)
	}
}

func TestReadDocument(t *testing.T) {
	dir := t.TempDir()
	jsonFile := filepath.Join(dir, "a.json")
	_ = os.WriteFile(jsonFile, []byte(`{"terraform": {}}`), 0o644)

	doc, err := readDocument(jsonFile, nil)
	if err != nil || doc["terraform"] == nil {
		t.Errorf("readDocument(json) = %v, %v", doc, err)
	}

	doc, err = readDocument("-", strings.NewReader(`{"x": 1}`))
	if err != nil || doc["x"] != float64(1) {
		t.Errorf("readDocument(stdin) = %v, %v", doc, err)
	}

	if _, err := readDocument("-", strings.NewReader("null")); err == nil {
		t.Error("expected error for empty document")
	}
	if _, err := readDocument(filepath.Join(dir, "missing.json"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}
