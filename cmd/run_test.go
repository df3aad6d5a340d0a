// File: cmd/run_test.go
package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsenderov/droidprobe/api/schemas"
	"github.com/tsenderov/droidprobe/internal/config"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cases.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTestCases_Array(t *testing.T) {
	path := writeTempFile(t, `[
		{"id": "tc1", "goal": "open settings", "app_id": "com.example.app"},
		{"id": "tc2", "goal": "create a note", "max_steps": 10}
	]`)

	cases, err := loadTestCases(path)
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, "tc1", cases[0].ID)
	assert.Equal(t, "com.example.app", cases[0].AppID)
	assert.Equal(t, 10, cases[1].MaxSteps)
}

func TestLoadTestCases_WrappedObject(t *testing.T) {
	path := writeTempFile(t, `{"test_cases": [{"id": "tc1", "goal": "g"}]}`)

	cases, err := loadTestCases(path)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "tc1", cases[0].ID)
}

func TestLoadTestCases_MissingFile(t *testing.T) {
	_, err := loadTestCases(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadTestCases_Garbage(t *testing.T) {
	path := writeTempFile(t, "not json at all")
	_, err := loadTestCases(path)
	assert.Error(t, err)
}

func TestRunCmd_DeviceFlagKeepsDeviceSectionIntact(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	config.SetDefaults(viper.GetViper())

	runCmd := newRunCmd()
	require.NoError(t, runCmd.Flags().Set("device", "emulator-5554"))
	require.NoError(t, runCmd.PreRunE(runCmd, []string{"cases.json"}))

	// The flag must land at device.device_id without shadowing the rest of
	// the device section.
	cfg, err := config.NewConfigFromViper(viper.GetViper())
	require.NoError(t, err)
	assert.Equal(t, "emulator-5554", cfg.Device.DeviceID)
	assert.Equal(t, "adb", cfg.Device.ADBPath)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := &cobra.Command{}
	c.SetOut(&buf)

	results := []*schemas.TestResult{
		{TestID: "tc1", Steps: 4, Verdict: schemas.Verdict{Result: schemas.VerdictPass, Reason: "goal reached"}},
		{TestID: "tc2", Steps: 9, Verdict: schemas.Verdict{Result: schemas.VerdictFail, Reason: "button missing", BugFound: true}},
	}
	summary := schemas.SuiteSummary{Total: 2, Passed: 1, Failed: 1, BugCount: 1}

	printSummary(c, results, summary)

	out := buf.String()
	assert.Contains(t, out, "2 total, 1 passed, 1 failed")
	assert.Contains(t, out, "tc1")
	assert.Contains(t, out, "BUG FOUND")
	assert.Contains(t, out, "button missing")
}
