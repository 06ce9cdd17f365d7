package workers

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrolimpl"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// transitionClock remembers when each transition was last seen
type transitionClock struct {
	mutex sync.Mutex
	seen  map[string][]time.Time
}

func (c *transitionClock) record(from, to processcontrol.ProcessState) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.seen == nil {
		c.seen = make(map[string][]time.Time)
	}
	key := string(from) + "->" + string(to)
	c.seen[key] = append(c.seen[key], time.Now())
}

func (c *transitionClock) first(key string) (time.Time, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.seen[key]) == 0 {
		return time.Time{}, false
	}
	return c.seen[key][0], true
}

// startCrashingApp runs an app that exits shortly after start through a real process control
func startCrashingApp(t *testing.T, extra string) (processcontrol.ProcessControl, *transitionClock) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crash.sh"), []byte("sleep 0.05\nexit 3\n"), 0o755))

	config := `
apps:
  - name: crasher
    script: crash.sh
    interpreter: sh
    max_restarts: 1
    instances: 4
    exec_mode: cluster
` + extra

	file, err := ecosystem.Parse([]byte(config), ecosystem.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, file.Validate())

	app := file.Apps[0]
	app.Resolve(dir)

	worker, err := NewAppWorker(&AppUnit{App: app}, AppWorkerOptions{}, newMockLogger())
	require.NoError(t, err)

	clock := &transitionClock{}
	options := worker.ProcessControlOptions()
	options.OnStateChange = clock.record

	pc := processcontrolimpl.NewProcessControl(options, worker.ID(), newMockLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = pc.Stop(ctx)
	})

	require.NoError(t, pc.Start(context.Background()))
	return pc, clock
}

func respawnGap(t *testing.T, clock *transitionClock) time.Duration {
	t.Helper()

	var exited, respawned time.Time
	require.Eventually(t, func() bool {
		var ok1, ok2 bool
		exited, ok1 = clock.first("running->waiting_restart")
		respawned, ok2 = clock.first("waiting_restart->starting")
		return ok1 && ok2
	}, 5*time.Second, 10*time.Millisecond)

	return respawned.Sub(exited)
}

func TestAppWorker_RestartDelayIsWaited(t *testing.T) {
	pc, clock := startCrashingApp(t, "    restart_delay: 700\n")

	gap := respawnGap(t, clock)
	assert.GreaterOrEqual(t, gap, 700*time.Millisecond)
	assert.Less(t, gap, 3*time.Second)

	require.Eventually(t, func() bool {
		return pc.GetState() == processcontrol.ProcessStateErrored
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, pc.GetDiagnostics().RestartCount)
}

func TestAppWorker_ZeroRestartDelayRespawnsImmediately(t *testing.T) {
	_, clock := startCrashingApp(t, "    restart_delay: 0\n")

	gap := respawnGap(t, clock)
	assert.Less(t, gap, 300*time.Millisecond)
}
