package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/keyrelay/internal/upstreamtest"
	"mercator-hq/keyrelay/pkg/cli"
)

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	// Flag values persist between executions of the package-level commands.
	cfgFile, verbose = "", false
	keysFlags.name, keysFlags.fromStdin, keysFlags.output = "", false, "text"
	checkFlags.all, checkFlags.output, checkFlags.quiet = false, "text", false
	generateFlags.prompt, generateFlags.image, generateFlags.callerKey, generateFlags.out = "", "", "", ""
	generateFlags.jsonOut = false

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, upstreamURL string) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
store:
  backend: sqlite
  sqlite:
    path: %s
health:
  pacing: 1ms
providers:
  primary:
    base_url: %s
  hosted:
    url: %s/generate
telemetry:
  logging:
    level: error
`, filepath.Join(dir, "keys.db"), upstreamURL, upstreamURL)

	path := filepath.Join(dir, "keyrelay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "Keyrelay "+Version) || !strings.Contains(out, "Go Version:") {
		t.Errorf("version output = %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1")

	out, err := execute(t, "", "validate", "--config", cfgPath)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "chain:   [hosted pooled]") || !strings.Contains(out, "store:   sqlite") {
		t.Errorf("validate output = %q", out)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(bad, []byte("pool:\n  policy: loudest\n"), 0o600)
	_, err = execute(t, "", "validate", "--config", bad)
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("invalid config exit code = %d (err %v), want %d", cli.ExitCode(err), err, cli.ExitConfig)
	}
}

func TestKeysCommands(t *testing.T) {
	cfgPath := writeConfig(t, "http://127.0.0.1:1")

	out, err := execute(t, "", "keys", "add", "--config", cfgPath, "--name", "main", "AIzaSyCommandLineKey000001")
	if err != nil {
		t.Fatalf("keys add error = %v", err)
	}
	if strings.Contains(out, "CommandLineKey") {
		t.Errorf("keys add printed the secret: %q", out)
	}

	stdin := "# pool\nAIzaSyCommandLineKey000002\n\nAIzaSyCommandLineKey000001\n"
	if _, err := execute(t, stdin, "keys", "add", "--config", cfgPath, "--stdin"); err != nil {
		t.Fatalf("keys add --stdin error = %v", err)
	}

	out, err = execute(t, "", "keys", "list", "--config", cfgPath, "--output", "csv")
	if err != nil {
		t.Fatalf("keys list error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("keys list = %d lines, want header + 2 (duplicate skipped):\n%s", len(lines), out)
	}
	if strings.Contains(out, "CommandLineKey") {
		t.Error("keys list printed a secret")
	}
	id := strings.Split(lines[1], ",")[0]

	out, err = execute(t, "", "keys", "toggle", "--config", cfgPath, id)
	if err != nil || !strings.Contains(out, "disabled") {
		t.Errorf("keys toggle = %q, %v", out, err)
	}
	if _, err := execute(t, "", "keys", "delete", "--config", cfgPath, id); err != nil {
		t.Errorf("keys delete error = %v", err)
	}
	if _, err := execute(t, "", "keys", "delete", "--config", cfgPath, id); err == nil {
		t.Error("deleting a missing key succeeded")
	}
}

func TestCheckAndGenerate(t *testing.T) {
	upstream := upstreamtest.NewMockServer()
	defer upstream.Close()
	upstream.SetResponse(upstreamtest.ModelsPath, upstreamtest.ModelsOK())
	upstream.SetResponse("/generate", upstreamtest.HostedError(500, "hosted down"))
	imgData := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	upstream.SetResponse(upstreamtest.GeneratePath("gemini-2.0-flash-exp"),
		upstreamtest.PrimaryImage("here you go", "image/png", imgData))

	cfgPath := writeConfig(t, upstream.URL())
	if _, err := execute(t, "", "keys", "add", "--config", cfgPath, "AIzaSyCommandLineKey000003"); err != nil {
		t.Fatalf("keys add error = %v", err)
	}

	out, err := execute(t, "", "check", "--config", cfgPath, "--all", "--quiet")
	if err != nil {
		t.Fatalf("check --all error = %v", err)
	}
	if !strings.Contains(out, "KEY_VALID") || !strings.Contains(out, "1 keys: 1 valid") {
		t.Errorf("check output = %q", out)
	}

	if _, err := execute(t, "", "check", "--config", cfgPath); err == nil {
		t.Error("check without id or --all succeeded")
	}

	outFile := filepath.Join(t.TempDir(), "out.png")
	out, err = execute(t, "", "generate", "--config", cfgPath, "--prompt", "a bicycle", "--out", outFile)
	if err != nil {
		t.Fatalf("generate error = %v (output %q)", err, out)
	}
	if !strings.Contains(out, "Served by pooled (fallback: true)") {
		t.Errorf("generate output = %q", out)
	}
	data, err := os.ReadFile(outFile)
	if err != nil || string(data) != "png-bytes" {
		t.Errorf("output file = %q, %v", data, err)
	}
}

func TestReadSecrets(t *testing.T) {
	secrets, err := readSecrets(strings.NewReader("  a  \n# comment\n\nb\n"))
	if err != nil {
		t.Fatalf("readSecrets() error = %v", err)
	}
	if strings.Join(secrets, ",") != "a,b" {
		t.Errorf("secrets = %v", secrets)
	}
	if _, err := readSecrets(strings.NewReader("\n# only comments\n")); err == nil {
		t.Error("readSecrets() of empty input succeeded")
	}
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	png := filepath.Join(dir, "in.png")
	_ = os.WriteFile(png, []byte("\x89PNG\r\n\x1a\nrest"), 0o600)
	img, err := loadImage(png)
	if err != nil {
		t.Fatalf("loadImage() error = %v", err)
	}
	if img.MimeType != "image/png" || img.Data == "" {
		t.Errorf("image = %+v", img)
	}

	txt := filepath.Join(dir, "notes.txt")
	_ = os.WriteFile(txt, []byte("hello"), 0o600)
	if _, err := loadImage(txt); err == nil {
		t.Error("loadImage() accepted a text file")
	}
}

func TestCompletionCommand(t *testing.T) {
	out, err := execute(t, "", "completion", "bash")
	if err != nil {
		t.Fatalf("completion error = %v", err)
	}
	if !strings.Contains(out, "keyrelay") {
		t.Error("bash completion does not mention the command")
	}
	if _, err := execute(t, "", "completion", "tcsh"); err == nil {
		t.Error("completion accepted an unsupported shell")
	}
}
