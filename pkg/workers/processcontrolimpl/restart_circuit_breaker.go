package processcontrolimpl

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/errors"
	"github.com/core-tools/hsu-ecosystem/pkg/logging"
	"github.com/core-tools/hsu-ecosystem/pkg/workers/processcontrol"
)

type RestartFunc func() error

// CircuitBreakerState provides insight into circuit breaker status
type CircuitBreakerState struct {
	IsOpen          bool                              `json:"is_open"`
	RestartAttempts int                               `json:"restart_attempts"`
	LastRestartTime time.Time                         `json:"last_restart_time"`
	CreationTime    time.Time                         `json:"creation_time"`
	LastTriggerType processcontrol.RestartTriggerType `json:"last_trigger_type,omitempty"`
	LastContext     *processcontrol.RestartContext    `json:"last_context,omitempty"`
}

// RestartCircuitBreaker spaces out restarts and gives up after too many
type RestartCircuitBreaker interface {
	GetState() CircuitBreakerState
	// ExecuteRestart waits out the retry delay, then runs restartFunc. The
	// wait ends early with a cancelled error when ctx is done.
	ExecuteRestart(ctx context.Context, restartFunc RestartFunc, restartContext processcontrol.RestartContext) error
	Reset()
}

func NewRestartCircuitBreaker(config *processcontrol.ContextAwareRestartConfig, id string, logger logging.Logger) RestartCircuitBreaker {
	return &restartCircuitBreaker{
		config:       config,
		id:           id,
		logger:       logger,
		creationTime: time.Now(),
	}
}

type restartCircuitBreaker struct {
	config *processcontrol.ContextAwareRestartConfig
	id     string
	logger logging.Logger

	restartAttempts    int
	lastRestartTime    time.Time
	creationTime       time.Time
	circuitBreakerOpen bool
	lastTriggerType    processcontrol.RestartTriggerType
	lastContext        *processcontrol.RestartContext
	mutex              sync.Mutex
}

func (rcb *restartCircuitBreaker) ExecuteRestart(ctx context.Context, restartFunc RestartFunc, restartContext processcontrol.RestartContext) error {
	retryDelay, attempt, err := rcb.admit(restartContext)
	if err != nil {
		return err
	}

	if retryDelay > 0 {
		rcb.logger.Infof("Waiting before restart, id: %s, trigger: %s, attempt: %d, delay: %v",
			rcb.id, restartContext.TriggerType, attempt, retryDelay)

		timer := time.NewTimer(retryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			rcb.logger.Infof("Pending restart cancelled, id: %s", rcb.id)
			return errors.NewCancelledError("restart cancelled", ctx.Err()).WithContext("id", rcb.id)
		}
	}

	rcb.mutex.Lock()
	open := rcb.circuitBreakerOpen
	rcb.lastRestartTime = time.Now()
	rcb.mutex.Unlock()
	if open {
		return errors.NewConflictError("restart circuit breaker opened during delay", nil).WithContext("id", rcb.id)
	}

	rcb.logger.Infof("Proceeding with restart, id: %s, trigger: %s, attempt: %d, message: %s",
		rcb.id, restartContext.TriggerType, attempt, restartContext.Message)

	if err := restartFunc(); err != nil {
		rcb.logger.Errorf("Failed to restart, id: %s, trigger: %s, error: %v", rcb.id, restartContext.TriggerType, err)
		return err
	}
	return nil
}

// admit counts the attempt and returns the delay to wait, or an error when the breaker is or becomes open
func (rcb *restartCircuitBreaker) admit(restartContext processcontrol.RestartContext) (time.Duration, int, error) {
	rcb.mutex.Lock()
	defer rcb.mutex.Unlock()

	rcb.lastContext = &restartContext
	rcb.lastTriggerType = restartContext.TriggerType

	if rcb.circuitBreakerOpen {
		return 0, rcb.restartAttempts, errors.NewConflictError("restart circuit breaker is open", nil).
			WithContext("id", rcb.id).WithContext("trigger", string(restartContext.TriggerType))
	}

	config := rcb.config.Default
	multiplier := rcb.severityMultiplier(restartContext.Severity)

	maxRetries := config.MaxRetries
	if maxRetries > 0 {
		maxRetries = int(float64(maxRetries) * multiplier)
		if maxRetries < 1 {
			maxRetries = 1
		}
	}

	if maxRetries > 0 && rcb.restartAttempts >= maxRetries {
		rcb.logger.Errorf("Max restarts reached, opening circuit breaker, id: %s, attempts: %d, max: %d",
			rcb.id, rcb.restartAttempts, maxRetries)
		rcb.circuitBreakerOpen = true
		return 0, rcb.restartAttempts, errors.NewConflictError("max restart retries exceeded", nil).
			WithContext("id", rcb.id).WithContext("max_restarts", maxRetries)
	}

	retryDelay := time.Duration(float64(config.RetryDelay) * multiplier)
	if rcb.restartAttempts > 0 && config.BackoffRate > 0 && config.BackoffRate != 1 {
		backoff := 1.0
		for i := 0; i < rcb.restartAttempts; i++ {
			backoff *= config.BackoffRate
		}
		retryDelay = time.Duration(float64(retryDelay) * backoff)
	}

	rcb.restartAttempts++
	return retryDelay, rcb.restartAttempts, nil
}

func (rcb *restartCircuitBreaker) severityMultiplier(severity string) float64 {
	if rcb.config.SeverityMultipliers == nil {
		return 1
	}
	if m, ok := rcb.config.SeverityMultipliers[severity]; ok && m > 0 {
		return m
	}
	return 1
}

func (rcb *restartCircuitBreaker) Reset() {
	rcb.mutex.Lock()
	defer rcb.mutex.Unlock()

	if rcb.restartAttempts > 0 || rcb.circuitBreakerOpen {
		rcb.logger.Debugf("Resetting circuit breaker, id: %s, previous attempts: %d", rcb.id, rcb.restartAttempts)
	}
	rcb.restartAttempts = 0
	rcb.circuitBreakerOpen = false
	rcb.lastTriggerType = ""
	rcb.lastContext = nil
}

func (rcb *restartCircuitBreaker) GetState() CircuitBreakerState {
	rcb.mutex.Lock()
	defer rcb.mutex.Unlock()

	return CircuitBreakerState{
		IsOpen:          rcb.circuitBreakerOpen,
		RestartAttempts: rcb.restartAttempts,
		LastRestartTime: rcb.lastRestartTime,
		CreationTime:    rcb.creationTime,
		LastTriggerType: rcb.lastTriggerType,
		LastContext:     rcb.lastContext,
	}
}
