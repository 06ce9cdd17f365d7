package logcollection

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/logcollection/config"
	"github.com/core-tools/hsu-ecosystem/pkg/processfile"
)

const (
	maxLineLength       = 1024 * 1024
	maxRecordedErrors   = 10
	defaultDrainTimeout = 2 * time.Second
)

// logCollectionService implements the LogCollectionService interface
type logCollectionService struct {
	config      config.LogCollectionConfig
	logger      StructuredLogger
	pathManager *processfile.ProcessFileManager

	mu      sync.RWMutex
	workers map[string]*workerLogCollector
	outputs []LogOutputWriter
	running int32 // atomic

	totalLines   int64 // atomic
	totalBytes   int64 // atomic
	lastActivity int64 // atomic, unix nanos
	startTime    time.Time
}

// NewLogCollectionService creates a new log collection service
func NewLogCollectionService(cfg config.LogCollectionConfig, logger StructuredLogger) LogCollectionService {
	return NewLogCollectionServiceWithPathManager(cfg, logger, nil)
}

// NewLogCollectionServiceWithPathManager creates a service that resolves relative
// global target paths with pathManager.
func NewLogCollectionServiceWithPathManager(cfg config.LogCollectionConfig, logger StructuredLogger, pathManager *processfile.ProcessFileManager) LogCollectionService {
	if pathManager == nil {
		pathManager = processfile.NewProcessFileManager(processfile.ProcessFileConfig{}, AsLogger(logger))
	}

	return &logCollectionService{
		config:      cfg,
		logger:      logger,
		workers:     make(map[string]*workerLogCollector),
		pathManager: pathManager,
	}
}

func (s *logCollectionService) drainTimeout() time.Duration {
	if s.config.System.DrainTimeout > 0 {
		return s.config.System.DrainTimeout
	}
	return defaultDrainTimeout
}

// Start starts the log collection service
func (s *logCollectionService) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return fmt.Errorf("log collection service already running")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.startTime = time.Now()

	if err := s.initializeOutputs(); err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("failed to initialize outputs: %w", err)
	}

	s.logger.WithFields(
		Component("log_collection"),
		Int("global_outputs", len(s.outputs)),
	).Infof("Log collection service started")

	return nil
}

// Stop stops every app collector and closes the global outputs
func (s *logCollectionService) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return fmt.Errorf("log collection service not running")
	}

	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]*workerLogCollector)
	outputs := s.outputs
	s.outputs = nil
	s.mu.Unlock()

	for workerID, worker := range workers {
		if err := worker.stop(s.drainTimeout()); err != nil {
			s.logger.WithError(err).Warnf("Error stopping app log collector: %s", workerID)
		}
	}

	for _, output := range outputs {
		if err := output.Close(); err != nil {
			s.logger.WithError(err).Warnf("Error closing output writer")
		}
	}

	s.logger.WithFields(
		Duration("uptime", time.Since(s.startTime)),
		Int64("total_lines", atomic.LoadInt64(&s.totalLines)),
		Int64("total_bytes", atomic.LoadInt64(&s.totalBytes)),
	).Infof("Log collection service stopped")

	return nil
}

// RegisterWorker registers an app and opens its outputs lazily on first line
func (s *logCollectionService) RegisterWorker(workerID string, workerConfig config.WorkerLogConfig) error {
	if atomic.LoadInt32(&s.running) == 0 {
		return fmt.Errorf("log collection service not running")
	}
	if err := workerConfig.Validate(); err != nil {
		return fmt.Errorf("invalid log configuration for %s: %w", workerID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[workerID]; exists {
		return fmt.Errorf("worker %s already registered", workerID)
	}
	if max := s.config.System.MaxWorkers; max > 0 && len(s.workers) >= max {
		return fmt.Errorf("cannot register %s: max_workers limit of %d reached", workerID, max)
	}

	worker, err := newWorkerLogCollector(workerID, workerConfig, s.logger.WithWorker(workerID), s)
	if err != nil {
		return err
	}
	s.workers[workerID] = worker

	s.logger.WithFields(
		Worker(workerID),
		Bool("capture_stdout", workerConfig.CaptureStdout),
		Bool("capture_stderr", workerConfig.CaptureStderr),
		Int("outputs", len(worker.outputNames)),
	).Debugf("Worker registered for log collection")

	return nil
}

// UnregisterWorker drains and closes an app collector
func (s *logCollectionService) UnregisterWorker(workerID string) error {
	s.mu.Lock()
	worker, exists := s.workers[workerID]
	if exists {
		delete(s.workers, workerID)
	}
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("worker %s not registered", workerID)
	}

	if err := worker.stop(s.drainTimeout()); err != nil {
		s.logger.WithError(err).Warnf("Error stopping app log collector: %s", workerID)
	}

	s.logger.WithWorker(workerID).Debugf("Worker unregistered from log collection")
	return nil
}

func (s *logCollectionService) IsWorkerRegistered(workerID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.workers[workerID]
	return exists
}

// CollectFromStream starts reading lines from a single stream
func (s *logCollectionService) CollectFromStream(workerID string, stream io.Reader, streamType StreamType) error {
	worker, err := s.getWorker(workerID)
	if err != nil {
		return err
	}
	return worker.collectFromStream(stream, streamType)
}

// CollectFromProcess starts reading both stdout and stderr of a process
func (s *logCollectionService) CollectFromProcess(workerID string, stdout, stderr io.Reader) error {
	worker, err := s.getWorker(workerID)
	if err != nil {
		return err
	}
	return worker.collectFromProcess(stdout, stderr)
}

func (s *logCollectionService) GetWorkerStatus(workerID string) (*WorkerLogStatus, error) {
	worker, err := s.getWorker(workerID)
	if err != nil {
		return nil, err
	}
	return worker.getStatus(), nil
}

func (s *logCollectionService) GetSystemStatus() *SystemLogStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers := make(map[string]*WorkerLogStatus)
	activeWorkers := 0
	for workerID, worker := range s.workers {
		status := worker.getStatus()
		workers[workerID] = status
		if status.Active {
			activeWorkers++
		}
	}

	outputTargets := make([]string, len(s.outputs))
	for i, output := range s.outputs {
		outputTargets[i] = fmt.Sprintf("%T", output)
	}

	var lastActivity time.Time
	if nanos := atomic.LoadInt64(&s.lastActivity); nanos > 0 {
		lastActivity = time.Unix(0, nanos)
	}

	return &SystemLogStatus{
		Active:        atomic.LoadInt32(&s.running) == 1,
		WorkersActive: activeWorkers,
		TotalWorkers:  len(s.workers),
		TotalLines:    atomic.LoadInt64(&s.totalLines),
		TotalBytes:    atomic.LoadInt64(&s.totalBytes),
		StartTime:     s.startTime,
		LastActivity:  lastActivity,
		Workers:       workers,
		OutputTargets: outputTargets,
	}
}

func (s *logCollectionService) getWorker(workerID string) (*workerLogCollector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	worker, exists := s.workers[workerID]
	if !exists {
		return nil, fmt.Errorf("worker %s not registered", workerID)
	}
	return worker, nil
}

func (s *logCollectionService) globalOutputs() []LogOutputWriter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputs
}

func (s *logCollectionService) initializeOutputs() error {
	if !s.config.GlobalAggregation.Enabled {
		return nil
	}

	s.outputs = make([]LogOutputWriter, 0, len(s.config.GlobalAggregation.Targets))
	for _, target := range s.config.GlobalAggregation.Targets {
		resolved := target
		if resolved.Format == "" {
			resolved.Format = config.FormatEnhancedPlain
		}
		if resolved.Type == config.TargetTypeFile && !filepath.IsAbs(resolved.Path) {
			resolved.Path = s.pathManager.GenerateLogFilePath(resolved.Path)
		}

		writer, err := createOutputWriter(resolved, nil)
		if err != nil {
			return fmt.Errorf("failed to create output writer for %s: %w", target.Type, err)
		}
		s.outputs = append(s.outputs, writer)
	}
	return nil
}

func (s *logCollectionService) recordMetrics(lineLength int) {
	atomic.AddInt64(&s.totalLines, 1)
	atomic.AddInt64(&s.totalBytes, int64(lineLength))
	atomic.StoreInt64(&s.lastActivity, time.Now().UnixNano())
}

// workerLogCollector fans the output of one app out to its targets
type workerLogCollector struct {
	workerID string
	config   config.WorkerLogConfig
	logger   StructuredLogger
	service  *logCollectionService

	stdoutOutputs []LogOutputWriter
	stderrOutputs []LogOutputWriter
	owned         []LogOutputWriter
	outputNames   []string

	mu             sync.RWMutex
	activeStreams  int
	closed         bool
	linesProcessed int64
	bytesProcessed int64
	lastActivity   time.Time

	errMu  sync.Mutex
	errors []string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newWorkerLogCollector(workerID string, cfg config.WorkerLogConfig, logger StructuredLogger, service *logCollectionService) (*workerLogCollector, error) {
	w := &workerLogCollector{
		workerID: workerID,
		config:   cfg,
		logger:   logger,
		service:  service,
		stopCh:   make(chan struct{}),
	}

	var timestamp *TimestampFormat
	if cfg.TimestampFormat != "" {
		compiled, err := CompileTimestampFormat(cfg.TimestampFormat)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp format for %s: %w", workerID, err)
		}
		timestamp = compiled
	}

	// Targets naming the same file share one writer, so a path used as both
	// out_file and log_file is opened once.
	byKey := make(map[string]LogOutputWriter)
	open := func(target config.OutputTargetConfig) (LogOutputWriter, error) {
		key := target.Type + "|" + target.Path + "|" + target.Format
		if writer, ok := byKey[key]; ok {
			return writer, nil
		}
		writer, err := createOutputWriter(target, timestamp)
		if err != nil {
			return nil, err
		}
		byKey[key] = writer
		w.owned = append(w.owned, writer)
		name := target.Type
		if target.Path != "" {
			name = target.Path
		}
		w.outputNames = append(w.outputNames, name)
		return writer, nil
	}

	add := func(dst *[]LogOutputWriter, targets []config.OutputTargetConfig) error {
		for _, target := range targets {
			writer, err := open(target)
			if err != nil {
				w.closeOwned()
				return fmt.Errorf("failed to create output for %s: %w", workerID, err)
			}
			*dst = append(*dst, writer)
		}
		return nil
	}

	if err := add(&w.stdoutOutputs, cfg.Outputs.Separate.Stdout); err != nil {
		return nil, err
	}
	if err := add(&w.stderrOutputs, cfg.Outputs.Separate.Stderr); err != nil {
		return nil, err
	}
	for _, target := range cfg.Outputs.Combined {
		writer, err := open(target)
		if err != nil {
			w.closeOwned()
			return nil, fmt.Errorf("failed to create output for %s: %w", workerID, err)
		}
		w.stdoutOutputs = appendUnique(w.stdoutOutputs, writer)
		w.stderrOutputs = appendUnique(w.stderrOutputs, writer)
	}

	return w, nil
}

func appendUnique(writers []LogOutputWriter, writer LogOutputWriter) []LogOutputWriter {
	for _, existing := range writers {
		if existing == writer {
			return writers
		}
	}
	return append(writers, writer)
}

func (w *workerLogCollector) collectFromStream(stream io.Reader, streamType StreamType) error {
	if stream == nil {
		return fmt.Errorf("nil %s stream for %s", streamType, w.workerID)
	}
	if !w.config.Enabled ||
		(streamType == StdoutStream && !w.config.CaptureStdout) ||
		(streamType == StderrStream && !w.config.CaptureStderr) {
		// Keep the pipe drained so the child never blocks on a full buffer.
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			_, _ = io.Copy(io.Discard, stream)
		}()
		return nil
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("log collector for %s is stopped", w.workerID)
	}
	w.activeStreams++
	w.mu.Unlock()

	w.wg.Add(1)
	go w.streamReader(stream, streamType)

	return nil
}

func (w *workerLogCollector) collectFromProcess(stdout, stderr io.Reader) error {
	if stdout != nil {
		if err := w.collectFromStream(stdout, StdoutStream); err != nil {
			return fmt.Errorf("stdout collection failed: %w", err)
		}
	}
	if stderr != nil {
		if err := w.collectFromStream(stderr, StderrStream); err != nil {
			return fmt.Errorf("stderr collection failed: %w", err)
		}
	}
	return nil
}

func (w *workerLogCollector) streamReader(stream io.Reader, streamType StreamType) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		w.activeStreams--
		w.mu.Unlock()
	}()

	reader := bufio.NewReaderSize(stream, 64*1024)
	lineNum := int64(0)
	var line []byte
	truncated := false

	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			w.logger.WithFields(Stream(streamType), Int64("lines", lineNum)).Debugf("App stream closed")
			if err != io.EOF {
				w.logger.WithError(err).Warnf("Error reading %s stream", streamType)
				w.recordError(fmt.Sprintf("%s stream reading error: %v", streamType, err))
				_, _ = io.Copy(io.Discard, stream)
			}
			return
		}

		// Bytes past maxLineLength are dropped and the rest of the stream is still read.
		if room := maxLineLength - len(line); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
				truncated = true
			}
			line = append(line, chunk...)
		} else {
			truncated = true
		}
		if isPrefix {
			continue
		}

		select {
		case <-w.stopCh:
			_, _ = io.Copy(io.Discard, stream)
			return
		default:
		}

		lineNum++
		if truncated {
			w.logger.WithFields(Stream(streamType), Int64("line", lineNum)).Warnf("Line longer than %d bytes truncated", maxLineLength)
		}
		w.processLogLine(LogEntry{
			Timestamp: time.Now(),
			Message:   string(line),
			WorkerID:  w.workerID,
			Stream:    streamType,
			LineNum:   lineNum,
		})
		line = line[:0]
		truncated = false
	}
}

func (w *workerLogCollector) processLogLine(entry LogEntry) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.linesProcessed++
	w.bytesProcessed += int64(len(entry.Message))
	w.lastActivity = entry.Timestamp
	w.mu.Unlock()

	w.service.recordMetrics(len(entry.Message))
	w.writeToOutputs(entry)
}

func (w *workerLogCollector) writeToOutputs(entry LogEntry) {
	outputs := w.stdoutOutputs
	if entry.Stream == StderrStream {
		outputs = w.stderrOutputs
	}
	global := w.service.globalOutputs()

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}

	for _, output := range outputs {
		if err := output.Write(entry); err != nil {
			w.recordError(fmt.Sprintf("output write error: %v", err))
		}
	}
	for _, output := range global {
		if err := output.Write(entry); err != nil {
			w.recordError(fmt.Sprintf("global output write error: %v", err))
		}
	}
}

// stop waits up to drainTimeout for the readers to reach EOF, then closes the outputs.
// Readers still blocked afterwards discard whatever they read.
func (w *workerLogCollector) stop(drainTimeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(drainTimeout):
		err = fmt.Errorf("log streams for %s still open after %v", w.workerID, drainTimeout)
	}

	close(w.stopCh)

	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	if closeErr := w.closeOwned(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (w *workerLogCollector) closeOwned() error {
	var firstErr error
	for _, output := range w.owned {
		if err := output.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *workerLogCollector) getStatus() *WorkerLogStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	w.errMu.Lock()
	errorsCopy := make([]string, len(w.errors))
	copy(errorsCopy, w.errors)
	w.errMu.Unlock()

	outputs := make([]string, len(w.outputNames))
	copy(outputs, w.outputNames)

	return &WorkerLogStatus{
		WorkerID:       w.workerID,
		Active:         w.activeStreams > 0 && !w.closed,
		LinesProcessed: w.linesProcessed,
		BytesProcessed: w.bytesProcessed,
		LastActivity:   w.lastActivity,
		Errors:         errorsCopy,
		Outputs:        outputs,
		Config:         w.config,
	}
}

func (w *workerLogCollector) recordError(errMsg string) {
	w.errMu.Lock()
	defer w.errMu.Unlock()

	w.errors = append(w.errors, fmt.Sprintf("%s: %s", time.Now().Format(time.RFC3339), errMsg))
	if len(w.errors) > maxRecordedErrors {
		w.errors = w.errors[len(w.errors)-maxRecordedErrors:]
	}
}
