package logcollection

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, cfg config.LogCollectionConfig) LogCollectionService {
	t.Helper()
	service := NewLogCollectionService(cfg, NewZapAdapterFromLogger(zap.NewNop()))
	require.NoError(t, service.Start(context.Background()))
	t.Cleanup(func() { _ = service.Stop() })
	return service
}

func fileTarget(path string) config.OutputTargetConfig {
	return config.OutputTargetConfig{Type: config.TargetTypeFile, Path: path, Format: config.FormatPlain}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestService_SeparateAndCombinedFiles(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "logs", "out.log")
	errPath := filepath.Join(dir, "logs", "error.log")
	combinedPath := filepath.Join(dir, "logs", "combined.log")

	service := newTestService(t, config.DefaultLogCollectionConfig())

	workerCfg := config.DefaultWorkerLogConfig()
	workerCfg.Outputs.Separate.Stdout = []config.OutputTargetConfig{fileTarget(outPath)}
	workerCfg.Outputs.Separate.Stderr = []config.OutputTargetConfig{fileTarget(errPath)}
	workerCfg.Outputs.Combined = []config.OutputTargetConfig{fileTarget(combinedPath)}
	require.NoError(t, service.RegisterWorker("zoneybot", workerCfg))

	require.NoError(t, service.CollectFromProcess("zoneybot",
		strings.NewReader("ready\nserving\n"),
		strings.NewReader("warning: slow\n"),
	))
	require.NoError(t, service.UnregisterWorker("zoneybot"))

	assert.Equal(t, []string{"ready", "serving"}, readLines(t, outPath))
	assert.Equal(t, []string{"warning: slow"}, readLines(t, errPath))
	assert.ElementsMatch(t, []string{"ready", "serving", "warning: slow"}, readLines(t, combinedPath))

	status := service.GetSystemStatus()
	assert.Equal(t, int64(3), status.TotalLines)
	assert.Equal(t, 0, status.TotalWorkers)
}

func TestService_SharedPathWrittenOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	service := newTestService(t, config.DefaultLogCollectionConfig())

	workerCfg := config.DefaultWorkerLogConfig()
	workerCfg.Outputs.Separate.Stdout = []config.OutputTargetConfig{fileTarget(path)}
	workerCfg.Outputs.Combined = []config.OutputTargetConfig{fileTarget(path)}
	require.NoError(t, service.RegisterWorker("api", workerCfg))

	status, err := service.GetWorkerStatus("api")
	require.NoError(t, err)
	assert.Equal(t, []string{path}, status.Outputs)

	require.NoError(t, service.CollectFromStream("api", strings.NewReader("one\n"), StdoutStream))
	require.NoError(t, service.UnregisterWorker("api"))

	assert.Equal(t, []string{"one"}, readLines(t, path))
}

func TestService_TimestampPrefix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	service := newTestService(t, config.DefaultLogCollectionConfig())

	workerCfg := config.DefaultWorkerLogConfig()
	workerCfg.TimestampFormat = "YYYY-MM-DD"
	workerCfg.Outputs.Separate.Stdout = []config.OutputTargetConfig{fileTarget(path)}
	require.NoError(t, service.RegisterWorker("bot", workerCfg))

	require.NoError(t, service.CollectFromStream("bot", strings.NewReader("hello\n"), StdoutStream))
	require.NoError(t, service.UnregisterWorker("bot"))

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}: hello$`, lines[0])
}

func TestService_UncapturedStreamIsDrained(t *testing.T) {
	service := newTestService(t, config.DefaultLogCollectionConfig())

	workerCfg := config.DefaultWorkerLogConfig()
	workerCfg.CaptureStderr = false
	require.NoError(t, service.RegisterWorker("quiet", workerCfg))

	r, w := io.Pipe()
	require.NoError(t, service.CollectFromStream("quiet", r, StderrStream))

	written := make(chan error, 1)
	go func() {
		_, err := w.Write([]byte("ignored\n"))
		written <- err
		w.Close()
	}()

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("write to uncaptured stream blocked")
	}

	status, err := service.GetWorkerStatus("quiet")
	require.NoError(t, err)
	assert.Equal(t, int64(0), status.LinesProcessed)
}

func TestService_DrainTimeoutOnOpenStream(t *testing.T) {
	cfg := config.DefaultLogCollectionConfig()
	cfg.System.DrainTimeout = 50 * time.Millisecond
	service := newTestService(t, cfg)

	require.NoError(t, service.RegisterWorker("stuck", config.DefaultWorkerLogConfig()))

	r, w := io.Pipe()
	defer w.Close()
	require.NoError(t, service.CollectFromStream("stuck", r, StdoutStream))

	start := time.Now()
	require.NoError(t, service.UnregisterWorker("stuck"))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, service.IsWorkerRegistered("stuck"))
}

func TestService_RegistrationErrors(t *testing.T) {
	notStarted := NewLogCollectionService(config.DefaultLogCollectionConfig(), NewZapAdapterFromLogger(zap.NewNop()))
	assert.Error(t, notStarted.RegisterWorker("a", config.DefaultWorkerLogConfig()))

	service := newTestService(t, config.DefaultLogCollectionConfig())
	require.NoError(t, service.RegisterWorker("a", config.DefaultWorkerLogConfig()))
	assert.Error(t, service.RegisterWorker("a", config.DefaultWorkerLogConfig()))

	bad := config.DefaultWorkerLogConfig()
	bad.TimestampFormat = "[oops"
	assert.Error(t, service.RegisterWorker("b", bad))

	assert.Error(t, service.UnregisterWorker("missing"))
	assert.Error(t, service.CollectFromStream("missing", strings.NewReader(""), StdoutStream))
}

func TestRotationSizeMB(t *testing.T) {
	mb, err := rotationSizeMB("100MB")
	require.NoError(t, err)
	assert.Equal(t, 100, mb)

	mb, err = rotationSizeMB("10KB")
	require.NoError(t, err)
	assert.Equal(t, 1, mb)

	_, err = rotationSizeMB("lots")
	assert.Error(t, err)
}

func TestLineFormatter(t *testing.T) {
	ts, err := CompileTimestampFormat("HH:mm")
	require.NoError(t, err)
	entry := LogEntry{
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Message:   "msg",
		WorkerID:  "web",
		Stream:    StderrStream,
	}

	plain, err := (&lineFormatter{format: config.FormatPlain, timestamp: ts}).render(entry)
	require.NoError(t, err)
	assert.Equal(t, "03:04: msg", plain)

	enhanced, err := (&lineFormatter{format: config.FormatEnhancedPlain, prefix: "> "}).render(entry)
	require.NoError(t, err)
	assert.Equal(t, "> [2024-01-02T03:04:05Z][web][stderr] msg", enhanced)

	jsonLine, err := (&lineFormatter{format: config.FormatJSON}).render(entry)
	require.NoError(t, err)
	assert.Contains(t, jsonLine, `"app":"web"`)
	assert.Contains(t, jsonLine, `"stream":"stderr"`)
}

func TestService_OversizedLineIsTruncated(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.log")
	service := newTestService(t, config.DefaultLogCollectionConfig())

	workerCfg := config.DefaultWorkerLogConfig()
	workerCfg.Outputs.Separate.Stdout = []config.OutputTargetConfig{fileTarget(outPath)}
	require.NoError(t, service.RegisterWorker("chatty", workerCfg))

	input := "before\n" + strings.Repeat("x", 2<<20) + "\nafter-1\nafter-2\n"
	require.NoError(t, service.CollectFromProcess("chatty", strings.NewReader(input), nil))
	require.NoError(t, service.UnregisterWorker("chatty"))

	lines := readLines(t, outPath)
	require.Len(t, lines, 4)
	assert.Equal(t, "before", lines[0])
	assert.Equal(t, maxLineLength, len(lines[1]))
	assert.Equal(t, []string{"after-1", "after-2"}, lines[2:])
}

func TestService_LastLineWithoutNewline(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "out.log")
	service := newTestService(t, config.DefaultLogCollectionConfig())

	workerCfg := config.DefaultWorkerLogConfig()
	workerCfg.Outputs.Separate.Stdout = []config.OutputTargetConfig{fileTarget(outPath)}
	require.NoError(t, service.RegisterWorker("partial", workerCfg))

	require.NoError(t, service.CollectFromProcess("partial", strings.NewReader("one\r\ntwo"), nil))
	require.NoError(t, service.UnregisterWorker("partial"))

	assert.Equal(t, []string{"one", "two"}, readLines(t, outPath))
}
