package logcollection

import (
	"fmt"
	"time"
)

// LogField is a key/value pair attached to a daemon log line. Type tells the
// backend which typed encoder to use.
type LogField struct {
	Key   string
	Value interface{}
	Type  FieldType
}

type FieldType int

const (
	StringField FieldType = iota
	IntField
	Int64Field
	BoolField
	DurationField
	ErrorField
)

func String(key, value string) LogField {
	return LogField{Key: key, Value: value, Type: StringField}
}

func Int(key string, value int) LogField {
	return LogField{Key: key, Value: value, Type: IntField}
}

func Int64(key string, value int64) LogField {
	return LogField{Key: key, Value: value, Type: Int64Field}
}

func Bool(key string, value bool) LogField {
	return LogField{Key: key, Value: value, Type: BoolField}
}

func Duration(key string, value time.Duration) LogField {
	return LogField{Key: key, Value: value, Type: DurationField}
}

// Error is always keyed "error"
func Error(err error) LogField {
	return LogField{Key: "error", Value: err, Type: ErrorField}
}

// Domain keys shared by the daemon and app collectors.

func Worker(workerID string) LogField { return String("app", workerID) }

func Stream(stream StreamType) LogField { return String("stream", string(stream)) }

func Component(component string) LogField { return String("component", component) }

func RequestID(requestID string) LogField { return String("request_id", requestID) }

func RunID(runID string) LogField { return String("run_id", runID) }

func PID(pid int) LogField { return Int("pid", pid) }

func (f LogField) String() string {
	return fmt.Sprintf("%s=%v", f.Key, f.Value)
}
