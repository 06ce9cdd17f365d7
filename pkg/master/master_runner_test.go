package master

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logcollection"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun_SupervisesApps(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	pidDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.sh"), []byte(`
echo "starting $GREETING"
echo "oops" >&2
exec sleep 30
`), 0644))

	configFile := filepath.Join(dir, "ecosystem.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(fmt.Sprintf(`
master:
  force_shutdown_timeout: 10s
  api_address: "127.0.0.1:0"
  process_file:
    base_directory: %q

apps:
  - name: app
    script: app.sh
    interpreter: sh
    env:
      GREETING: hello
    env_production:
      GREETING: prod
    log_file: logs/combined.log
    out_file: logs/out.log
    error_file: logs/error.log
    log_date_format: "YYYY"
    kill_timeout: 500
  - name: disabled
    script: app.sh
    interpreter: sh
    enabled: false
`, pidDir)), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan *Master, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(RunOptions{
			Context:          ctx,
			ConfigFile:       configFile,
			Profile:          "production",
			StructuredLogger: logcollection.NewZapAdapterFromLogger(zap.NewNop()),
			Ready:            func(m *Master) { ready <- m },
		}, &TestLogger{})
	}()

	var master *Master
	select {
	case master = <-ready:
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("apps never started")
	}

	states := master.GetAllWorkerStates()
	assert.Equal(t, map[string]processcontrol.ProcessState{"app": processcontrol.ProcessStateRunning}, states)
	assert.NotEmpty(t, master.APIAddress())

	readLog := func(name string) string {
		data, _ := os.ReadFile(filepath.Join(dir, "logs", name))
		return string(data)
	}
	year := fmt.Sprintf("%d: ", time.Now().Year())

	require.Eventually(t, func() bool {
		return strings.Contains(readLog("out.log"), "starting prod") &&
			strings.Contains(readLog("error.log"), "oops") &&
			strings.Contains(readLog("combined.log"), "oops")
	}, 5*time.Second, 20*time.Millisecond)

	assert.True(t, strings.HasPrefix(readLog("out.log"), year), readLog("out.log"))
	assert.NotContains(t, readLog("out.log"), "oops")
	assert.Contains(t, readLog("combined.log"), "starting prod")

	pidFiles, err := filepath.Glob(filepath.Join(pidDir, "*"))
	require.NoError(t, err)
	assert.NotEmpty(t, pidFiles)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.Equal(t, MasterStateStopped, master.GetMasterState())
	assert.Equal(t, processcontrol.ProcessStateIdle, master.GetAllWorkerStates()["app"])
}

func TestRun_RunDuration(t *testing.T) {
	configFile := writeConfigFile(t, "ecosystem.yaml", `
master:
  disable_pid_files: true
apps: []
`)

	start := time.Now()
	err := Run(RunOptions{
		ConfigFile:       configFile,
		RunDuration:      100 * time.Millisecond,
		StructuredLogger: logcollection.NewZapAdapterFromLogger(zap.NewNop()),
	}, &TestLogger{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRun_InvalidConfig(t *testing.T) {
	err := Run(RunOptions{ConfigFile: filepath.Join(t.TempDir(), "missing.yaml")}, &TestLogger{})
	require.Error(t, err)
	assert.True(t, errors.IsIOError(err))

	configFile := writeConfigFile(t, "ecosystem.yaml", `
apps:
  - name: api
    script: server.js
    interpreter: node
    max_memory_restart: lots
`)
	err = Run(RunOptions{ConfigFile: configFile}, &TestLogger{})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))

	err = Run(RunOptions{ConfigFile: configFile, APIAddress: "bad"}, &TestLogger{})
	require.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}
