package master

import (
	"net"
	"strconv"
	"time"

	"github.com/core-tools/hsu-ecosystem/pkg/ecosystem"
	"github.com/core-tools/hsu-ecosystem/pkg/errors"
)

// ValidateWorkerID validates an app name used as worker ID
func ValidateWorkerID(id string) error {
	if err := ecosystem.ValidateName(id); err != nil {
		return errors.NewValidationError("invalid worker ID", err).WithContext("worker_id", id)
	}
	return nil
}

// ValidatePort validates port number
func ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError("port must be between 1 and 65535", nil)
	}
	return nil
}

// ValidateListenAddress validates a host:port listen address. The host may be
// empty to listen on all interfaces, and port 0 picks a free port.
func ValidateListenAddress(address string) error {
	if address == "" {
		return errors.NewValidationError("listen address cannot be empty", nil)
	}

	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return errors.NewValidationError("invalid listen address format: "+address, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}
	if port == 0 {
		return nil
	}
	if err := ValidatePort(port); err != nil {
		return errors.NewValidationError("invalid port in address: "+address, err)
	}

	return nil
}

// ValidateTimeout validates timeout duration
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" timeout cannot be negative", nil)
	}

	if timeout == 0 {
		return errors.NewValidationError(name+" timeout cannot be zero", nil)
	}

	return nil
}
