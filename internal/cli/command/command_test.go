package command

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yndnr/objmesh-go/internal/core/domain"
)

// run executes the CLI with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runContext(context.Background(), t, args...)
}

func runContext(ctx context.Context, t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := App()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.RunContext(ctx, append([]string{"objmesh", "--log-level", "error"}, args...))
	return out.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

func TestObject_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	obj := func(args ...string) string {
		t.Helper()
		out, err := run(t, append([]string{"--data-dir", dir, "--bundle", "demo.app", "object"}, args...)...)
		if err != nil {
			t.Fatalf("object %v: %v", args, err)
		}
		return out
	}

	obj("create", "s1")
	obj("put", "s1", "title", "draft")
	obj("put", "--type", "double", "s1", "page", "3.5")
	obj("put", "-t", "bool", "s1", "done", "false")

	if diff := cmp.Diff([]string{
		"FIELD  TYPE    VALUE",
		"title  string  draft",
	}, lines(obj("get", "s1", "title"))); diff != "" {
		t.Errorf("get mismatch (-want +got):\n%s", diff)
	}

	if got := obj("type", "s1", "page"); !strings.Contains(got, "double") {
		t.Errorf("type = %q", got)
	}

	want := []string{
		"FIELD  TYPE     VALUE",
		"done   boolean  false",
		"page   double   3.5",
		"title  string   draft",
	}
	if diff := cmp.Diff(want, lines(obj("dump", "s1"))); diff != "" {
		t.Errorf("dump mismatch (-want +got):\n%s", diff)
	}

	obj("delete", "--field", "done", "s1")
	if got := obj("dump", "s1"); strings.Contains(got, "done") {
		t.Errorf("field survived delete:\n%s", got)
	}

	obj("delete", "s1")
	if got := lines(obj("dump", "s1")); len(got) != 1 {
		t.Errorf("deleted object still has fields: %v", got)
	}
}

func TestObject_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"missing args", []string{"object", "put", "s1", "title"}},
		{"bad type", []string{"object", "put", "--type", "int", "s1", "n", "1"}},
		{"bad value", []string{"object", "put", "--type", "double", "s1", "n", "many"}},
		{"unknown field", []string{"object", "get", "s1", "nothing"}},
		{"bad output", []string{"--output", "xml", "object", "dump", "s1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, append([]string{"--data-dir", dir}, tt.args...)...); err == nil {
				t.Errorf("run(%v) succeeded", tt.args)
			}
		})
	}
}

func TestObject_HandoffNeedsRedis(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		mode string
		args []string
	}{
		{"save with local coordinator", "local", []string{"save", "s1", "tablet"}},
		{"revoke with local coordinator", "local", []string{"revoke", "s1"}},
		{"save without coordinator", "none", []string{"save", "s1", "tablet"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OBJMESH_COORDINATOR__MODE", tt.mode)
			out, err := run(t, append([]string{"--data-dir", dir, "object"}, tt.args...)...)
			if !errors.Is(err, domain.ErrRemoteUnavailable) {
				t.Fatalf("err = %v, want ErrRemoteUnavailable", err)
			}
			if out != "" {
				t.Errorf("printed %q for a failed hand-off", out)
			}
		})
	}
}

func TestObject_JSONOutput(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "--data-dir", dir, "object", "put", "s1", "title", "draft"); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "--data-dir", dir, "-o", "json", "object", "get", "s1", "title")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"value": "draft"`) {
		t.Errorf("json output = %s", out)
	}
}

func TestConfig_ShowMasksSecrets(t *testing.T) {
	t.Setenv("OBJMESH_COORDINATOR__SEAL_KEY", strings.Repeat("ab", 16))

	out, err := run(t, "--data-dir", t.TempDir(), "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, strings.Repeat("ab", 16)) {
		t.Errorf("seal key printed in clear:\n%s", out)
	}
	if !strings.Contains(out, "coordinator:") {
		t.Errorf("config show is not yaml:\n%s", out)
	}
}

func TestConfig_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("OBJMESH_NODE__DEVICE_ID=from-env\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("OBJMESH_NODE__DEVICE_ID") })

	out, err := run(t, "--env-file", path, "--in-memory", "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "device_id: from-env") {
		t.Errorf("env file not applied:\n%s", out)
	}
}

func TestConfig_Validate(t *testing.T) {
	if _, err := run(t, "--in-memory", "config", "validate"); err != nil {
		t.Errorf("validate default: %v", err)
	}

	path := filepath.Join(t.TempDir(), "objmesh.yaml")
	if err := os.WriteFile(path, []byte("coordinator:\n  mode: carrier-pigeon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "--config", path, "--in-memory", "config", "validate"); err == nil {
		t.Error("invalid mode accepted")
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "-o", "yaml", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "go_version:") {
		t.Errorf("version output = %q", out)
	}
}

func TestServe_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := runContext(ctx, t,
		"--in-memory", "--bundle", "demo.app",
		"serve", "--watch", "s1", "--watch", "s2", "--metrics-addr", "127.0.0.1:0")
	if err != nil {
		t.Errorf("serve returned %v", err)
	}
}
