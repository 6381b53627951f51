package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	for _, want := range []string{"hwcsim", "Simulation:", "run", "caps"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestRootCommand_Version(t *testing.T) {
	SetVersion("1.2.3")
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(out, "1.2.3") {
		t.Errorf("version output = %q", out)
	}
}

func TestRootCommand_InvalidCommand(t *testing.T) {
	if _, err := execute(t, "invalid-command"); err == nil {
		t.Error("expected error for invalid command")
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	for _, name := range []string{"run", "caps", "states", "version", "completion"} {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			if err != nil || cmd.Name() != name {
				t.Errorf("subcommand %q not found", name)
			}
		})
	}
}

func TestCaps(t *testing.T) {
	out, err := execute(t, "caps")
	if err != nil {
		t.Fatalf("caps error = %v", err)
	}
	for _, want := range []string{"Pipes", "Rotators", "primary", "1080x1920"} {
		if !strings.Contains(out, want) {
			t.Errorf("caps output missing %q:\n%s", want, out)
		}
	}

	path := filepath.Join(t.TempDir(), "hw.yaml")
	if err := os.WriteFile(path, []byte("scaler:\n  max_upscale: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "caps", "--config", path); err == nil {
		t.Error("caps accepted an invalid configuration")
	}
	capsConfig = ""
}

func TestStates(t *testing.T) {
	out, err := execute(t, "states")
	if err != nil {
		t.Fatalf("states error = %v", err)
	}
	for _, want := range []string{"N_LAYER_BYPASS(1)", "mirror", "target on external"} {
		if !strings.Contains(out, want) {
			t.Errorf("states output missing %q", want)
		}
	}
}

func TestRun(t *testing.T) {
	path := filepath.Join("..", "..", "cmd", "hwcsim", "scenarios", "bypass.yaml")
	out, err := execute(t, "run", path)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	for _, want := range []string{"Summary", "wallpaper=", "all frames committed"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "run", "missing.yaml"); err == nil {
		t.Error("run of a missing scenario succeeded")
	}
}
