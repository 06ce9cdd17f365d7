package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type changeRecorder struct {
	mutex sync.Mutex
	paths []string
}

func (r *changeRecorder) record(path string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.paths = append(r.paths, path)
}

func (r *changeRecorder) snapshot() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return append([]string(nil), r.paths...)
}

func startWatcher(t *testing.T, config Config) (*Watcher, *changeRecorder) {
	t.Helper()
	recorder := &changeRecorder{}
	w := NewWatcher(config, recorder.record, nil)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, recorder
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	_, recorder := startWatcher(t, Config{Root: root, Debounce: 100 * time.Millisecond})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "main.js"), []byte{byte(i)}, 0644))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(recorder.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.Len(t, recorder.snapshot(), 1)
	assert.Equal(t, filepath.Join(root, "main.js"), recorder.snapshot()[0])
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	root := t.TempDir()
	_, recorder := startWatcher(t, Config{Root: root, Debounce: 50 * time.Millisecond})

	sub := filepath.Join(root, "lib")
	require.NoError(t, os.Mkdir(sub, 0755))
	require.Eventually(t, func() bool { return len(recorder.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(sub, "util.js"), []byte("x"), 0644))
	require.Eventually(t, func() bool { return len(recorder.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresConfiguredPaths(t *testing.T) {
	root := t.TempDir()
	logs := filepath.Join(root, "logs")
	require.NoError(t, os.Mkdir(logs, 0755))
	outFile := filepath.Join(root, "out.log")

	_, recorder := startWatcher(t, Config{
		Root:     root,
		Ignore:   []string{"logs", "*.tmp"},
		Exclude:  []string{outFile},
		Debounce: 50 * time.Millisecond,
	})

	require.NoError(t, os.WriteFile(filepath.Join(logs, "app.log"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(outFile, []byte("x"), 0644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, recorder.snapshot())
}

func TestWatcher_IsIgnored(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "app")
	w := NewWatcher(Config{Root: root, Ignore: []string{"dist", "*.log", "src/generated"}}, nil, nil)

	tests := []struct {
		path    string
		ignored bool
	}{
		{"index.js", false},
		{"src/main.js", false},
		{".git/HEAD", true},
		{"node_modules/x/index.js", true},
		{"dist/bundle.js", true},
		{"server.log", true},
		{"src/generated/api.js", true},
		{"src/generated.js", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.ignored, w.IsIgnored(filepath.Join(root, filepath.FromSlash(tt.path))))
		})
	}

	assert.False(t, w.IsIgnored(root))
}

func TestWatcher_StartErrors(t *testing.T) {
	err := NewWatcher(Config{}, nil, nil).Start(context.Background())
	assert.True(t, errors.IsValidationError(err))

	err = NewWatcher(Config{Root: filepath.Join(t.TempDir(), "missing")}, nil, nil).Start(context.Background())
	assert.True(t, errors.IsIOError(err))

	err = NewWatcher(Config{Root: t.TempDir(), Ignore: []string{"["}}, nil, nil).Start(context.Background())
	assert.True(t, errors.IsValidationError(err))

	w, _ := startWatcher(t, Config{Root: t.TempDir()})
	err = w.Start(context.Background())
	assert.True(t, errors.IsConflictError(err))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(Config{Root: t.TempDir()}, nil, nil)
	require.NoError(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
	w.Stop()
	w.Stop()
	assert.False(t, w.IsRunning())
}
