package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/timeline/internal/config"
)

func TestConfigInit_WritesAndRefuses(t *testing.T) {
	lines := captureInfo(t)
	path := filepath.Join(t.TempDir(), "timeline", "config.yaml")

	origFile, origForce := cfgFile, forceFlag
	t.Cleanup(func() { cfgFile, forceFlag = origFile, origForce })
	cfgFile = path
	forceFlag = false

	require.NoError(t, runConfigInit(configInitCmd, nil))
	require.Contains(t, (*lines)[0], "Wrote")
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.ErrorContains(t, runConfigInit(configInitCmd, nil), "already exists")

	forceFlag = true
	require.NoError(t, runConfigInit(configInitCmd, nil))
	require.Contains(t, (*lines)[1], "Overwrote")
}

func TestConfigShow(t *testing.T) {
	origCfg := cfg
	t.Cleanup(func() {
		cfg = origCfg
		configShowCmd.SetOut(nil)
	})
	cfg = config.Default()
	cfg.Trace.OutputDir = "/traces"

	var out bytes.Buffer
	configShowCmd.SetOut(&out)
	require.NoError(t, runConfigShow(configShowCmd, nil))
	require.Contains(t, out.String(), "output_dir: /traces")
	require.Contains(t, out.String(), "exporter: none")
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"record", "show", "config", "version"} {
		require.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootSetup_LoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("trace:\n  output_dir: "+dir+"\n"), 0600))

	origFile, origCfg := cfgFile, cfg
	t.Cleanup(func() {
		cfgFile, cfg = origFile, origCfg
		teardown()
	})
	cfgFile = path

	require.NoError(t, setup(versionCmd, nil))
	require.Equal(t, dir, cfg.Trace.OutputDir)
	require.Equal(t, config.ExporterNone, cfg.Telemetry.Exporter)
}

func TestRootSetup_BindsDebugFlagFromSubcommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	logFile := filepath.Join(dir, "logs", "debug.log")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  file: "+logFile+"\n"), 0600))

	origFile, origCfg := cfgFile, cfg
	t.Cleanup(func() {
		teardown()
		cfgFile, cfg = origFile, origCfg
		require.NoError(t, rootCmd.PersistentFlags().Set("debug", "false"))
	})
	cfgFile = path
	require.NoError(t, rootCmd.PersistentFlags().Set("debug", "true"))

	require.NoError(t, setup(recordCmd, nil))
	require.True(t, cfg.Log.Debug)
	require.NotNil(t, closeLog)
	_, err := os.Stat(logFile)
	require.NoError(t, err)
}

func TestExecute_TearsDownWhenCommandFails(t *testing.T) {
	dir := t.TempDir()
	origFile, origCfg, origClose := cfgFile, cfg, closeLog
	t.Cleanup(func() {
		cfgFile, cfg, closeLog = origFile, origCfg, origClose
		rootCmd.SetArgs(nil)
	})

	closed := 0
	closeLog = func() { closed++ }
	rootCmd.SetArgs([]string{"show", filepath.Join(dir, "missing.json"), "--config", filepath.Join(dir, "config.yaml")})

	require.Error(t, execute())
	require.Equal(t, 1, closed, "log closed after a failed command")
	require.Nil(t, closeLog)

	teardown()
	require.Equal(t, 1, closed, "second teardown is a no-op")
}
