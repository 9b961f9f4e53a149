// stress_test.go tests the 'refslot stress' command.
package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/refslot/internal/refslot/stress"
)

// TestParseStressArgs_Defaults tests parsing with no flags.
func TestParseStressArgs_Defaults(t *testing.T) {
	opts, err := parseStressArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, stress.DefaultConfig(), opts.cfg)
	assert.Equal(t, slog.LevelInfo, opts.logLevel)
	assert.Empty(t, opts.out)
}

// TestParseStressArgs_Flags tests that every flag reaches the config.
func TestParseStressArgs_Flags(t *testing.T) {
	opts, err := parseStressArgs([]string{
		"-w", "3", "--iterations=7", "--slots", "2", "--table-size", "8",
		"--policy", "fast", "--copy", "--load-every", "0", "--debug",
		"-o", "out.json", "--log-level", "debug",
	})
	require.NoError(t, err)

	want := stress.Config{
		Writers:    3,
		Iterations: 7,
		Slots:      2,
		TableSize:  8,
		Policy:     "fast",
		Copy:       true,
		LoadEvery:  0,
		Debug:      true,
	}
	assert.Equal(t, want, opts.cfg)
	assert.Equal(t, "out.json", opts.out)
	assert.Equal(t, slog.LevelDebug, opts.logLevel)
}

// TestParseStressArgs_FlagsOverrideConfig tests precedence over the file.
func TestParseStressArgs_FlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stress.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// from the file
		"writers": 5,
		"slots": 9,
	}`), 0o600))

	opts, err := parseStressArgs([]string{"--config", path, "--slots", "1"})
	require.NoError(t, err)

	assert.Equal(t, 5, opts.cfg.Writers, "file value kept")
	assert.Equal(t, 1, opts.cfg.Slots, "flag wins over file")
	assert.Equal(t, stress.DefaultConfig().Iterations, opts.cfg.Iterations, "default kept")
}

// TestParseStressArgs_Errors tests rejected command lines.
func TestParseStressArgs_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want error
	}{
		{"help", []string{"--help"}, flag.ErrHelp},
		{"bad writers", []string{"--writers", "0"}, stress.ErrWritersInvalid},
		{"missing config", []string{"--config", "/nonexistent/stress.jsonc"}, stress.ErrConfigFileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseStressArgs(tt.args)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := parseStressArgs([]string{"extra"})
	assert.ErrorContains(t, err, "unexpected arguments")

	_, err = parseStressArgs([]string{"--log-level", "loud"})
	assert.ErrorContains(t, err, "invalid --log-level")
}

// TestStressCommand_CleanRun tests a guarded run end to end.
func TestStressCommand_CleanRun(t *testing.T) {
	out := filepath.Join(t.TempDir(), "report.json")
	var stdout, stderr bytes.Buffer

	code := stressCommand([]string{"-w", "4", "-n", "100", "-s", "2", "-o", out}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	assert.Contains(t, stdout.String(), "CLEAN")
	assert.Contains(t, stderr.String(), "stress.start")
	assert.Contains(t, stderr.String(), "report written")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var res stress.Result
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, 400, res.Values)
	assert.True(t, res.Clean())
}

// TestStressCommand_UsageError tests exit code 2 on bad flags.
func TestStressCommand_UsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := stressCommand([]string{"--table-size", "3"}, &stdout, &stderr)
	assert.Equal(t, 1, code, "table size is checked when the run starts")

	stderr.Reset()
	code = stressCommand([]string{"--policy", "yolo"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
	assert.True(t, strings.HasPrefix(stderr.String(), "Error:"))
	assert.Contains(t, stderr.String(), "Usage: refslot stress")
}

// TestStressCommand_Help tests --help output.
func TestStressCommand_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := stressCommand([]string{"--help"}, &stdout, &stderr)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "--writers")
	assert.Contains(t, stdout.String(), "--policy")
	assert.Empty(t, stderr.String())
}

// TestPrintUsage tests the top-level help text.
func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)
	assert.Contains(t, buf.String(), "stress")
	assert.Contains(t, buf.String(), "repl")

	buf.Reset()
	printVersion(&buf)
	assert.Contains(t, buf.String(), "refslot version")
}
