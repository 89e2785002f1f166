// main_test.go tests the stmbench commands end to end.
package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kolkov/gostm/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// TestVersionCommand tests 'stmbench version'.
func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "stmbench version") || !strings.Contains(out, "TL2") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

// TestCounterCommand tests 'stmbench counter' with two goroutines.
func TestCounterCommand(t *testing.T) {
	out, err := execute(t, "counter", "--threads", "2", "--per-thread", "500")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if !strings.Contains(out, "counter: 1000 ops on 2 threads") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "final size 1000") {
		t.Errorf("counter did not reach 1000:\n%s", out)
	}
}

// TestBenchCommands runs both structures on a small workload.
func TestBenchCommands(t *testing.T) {
	for _, structure := range []string{"hashmap", "rbtree"} {
		t.Run(structure, func(t *testing.T) {
			out, err := execute(t, structure,
				"--threads", "4", "--ops", "2000", "--small", "--mix", "write-heavy",
				"--seed", "9", "--buckets", "32")
			if err != nil {
				t.Fatalf("%s: %v\n%s", structure, err, out)
			}
			if !strings.HasPrefix(out, "seed 9\n") {
				t.Errorf("seed not reported:\n%s", out)
			}
			if !strings.Contains(out, structure+": 2000 ops on 4 threads") {
				t.Errorf("unexpected output:\n%s", out)
			}
		})
	}
}

// TestBenchConfigFile tests that flags override values from --config.
func TestBenchConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.toml")
	body := `
[engine]
lock-table-size = 1024
heap-words = 1048576

[bench]
threads = 3
ops = 900
key-min = 0
key-max = 64
prefill = false
seed = 4
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "rbtree", "--config", path, "--ops", "300")
	if err != nil {
		t.Fatalf("rbtree: %v\n%s", err, out)
	}
	if !strings.Contains(out, "rbtree: 300 ops on 3 threads") {
		t.Errorf("flag override or config value lost:\n%s", out)
	}
}

// TestBenchRejectsBadInput tests flag and config validation.
func TestBenchRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown mix", []string{"hashmap", "--mix", "balanced"}},
		{"ratios over one", []string{"hashmap", "--put-ratio", "0.8", "--delete-ratio", "0.8"}},
		{"missing config", []string{"rbtree", "--config", "/nonexistent/bench.toml"}},
		{"extra argument", []string{"rbtree", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Errorf("%v: expected an error", tt.args)
			}
		})
	}
}

// TestApplyBenchFlags tests that presets yield to explicit flags.
func TestApplyBenchFlags(t *testing.T) {
	cmd := newBenchCommand(&globalOptions{}, "hashmap", "")
	if err := cmd.Flags().Parse([]string{"--mix", "read-heavy", "--put-ratio", "0.5", "--small", "--key-max", "150"}); err != nil {
		t.Fatal(err)
	}
	b := config.DefaultConf.Bench
	if err := applyBenchFlags(cmd.Flags(), &b); err != nil {
		t.Fatal(err)
	}
	if b.PutRatio != 0.5 || b.DeleteRatio != 0.05 {
		t.Errorf("ratios = %v/%v, want 0.5/0.05", b.PutRatio, b.DeleteRatio)
	}
	if b.KeyMin != 100 || b.KeyMax != 150 {
		t.Errorf("key range = [%d, %d), want [100, 150)", b.KeyMin, b.KeyMax)
	}
	if b.Ops != config.DefaultConf.Bench.Ops {
		t.Errorf("unset flag changed ops to %d", b.Ops)
	}
}
