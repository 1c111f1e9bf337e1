package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// keySeparator joins the three parts of a rendered StepKey.
const keySeparator = "|"

// Status is the lifecycle state of a step attempt.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a step attempt.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StepKey is the identity of one logical step invocation within an execution.
//
// The same Label may appear many times in one execution (loop iterations,
// parallel branches); Sequence tells them apart.
type StepKey struct {
	ExecutionID string `json:"execution_id"`
	Label       string `json:"label"`
	Sequence    int    `json:"sequence"`
}

// String renders the key as "executionID|label|sequence".
//
// Execution IDs never contain the separator, so the first and last separators
// delimit the label even when the label itself contains one.
func (k StepKey) String() string {
	return k.ExecutionID + keySeparator + k.Label + keySeparator + strconv.Itoa(k.Sequence)
}

// Validate checks the key can be rendered unambiguously.
func (k StepKey) Validate() error {
	if k.ExecutionID == "" {
		return errors.New("step key: execution ID is empty")
	}
	if strings.Contains(k.ExecutionID, keySeparator) {
		return fmt.Errorf("step key: execution ID %q contains %q", k.ExecutionID, keySeparator)
	}
	if k.Label == "" {
		return errors.New("step key: label is empty")
	}
	if k.Sequence < 1 {
		return fmt.Errorf("step key: sequence %d is not positive", k.Sequence)
	}
	return nil
}

// ParseStepKey is the inverse of StepKey.String.
func ParseStepKey(s string) (StepKey, error) {
	first := strings.Index(s, keySeparator)
	last := strings.LastIndex(s, keySeparator)
	if first < 0 || first == last {
		return StepKey{}, fmt.Errorf("parse step key %q: want execution|label|sequence", s)
	}
	seq, err := strconv.Atoi(s[last+1:])
	if err != nil {
		return StepKey{}, fmt.Errorf("parse step key %q: %w", s, err)
	}
	key := StepKey{
		ExecutionID: s[:first],
		Label:       s[first+1 : last],
		Sequence:    seq,
	}
	if err := key.Validate(); err != nil {
		return StepKey{}, err
	}
	return key, nil
}

// Payload is an encoded step result plus the name of the codec that
// produced it. Stores keep the bytes opaque.
type Payload struct {
	Codec string `json:"codec"`
	Data  []byte `json:"data"`
}

// Record is one row of the step table.
type Record struct {
	Key    StepKey `json:"key"`
	Status Status  `json:"status"`

	// Result is set only when Status is COMPLETED.
	Result *Payload `json:"result,omitempty"`

	// Error is set only when Status is FAILED.
	Error string `json:"error,omitempty"`

	// Attempt counts how many times work was started for this key across
	// all passes. The first RUNNING write is attempt 1.
	Attempt int `json:"attempt"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the field combinations allowed for rec.Status.
func (r Record) Validate() error {
	if err := r.Key.Validate(); err != nil {
		return err
	}
	if !r.Status.Valid() {
		return fmt.Errorf("record %s: unknown status %q", r.Key, r.Status)
	}
	if (r.Status == StatusCompleted) != (r.Result != nil) {
		return fmt.Errorf("record %s: result must be set exactly when status is %s", r.Key, StatusCompleted)
	}
	if r.Status == StatusFailed && r.Error == "" {
		return fmt.Errorf("record %s: failed record has no error message", r.Key)
	}
	if r.Status != StatusFailed && r.Error != "" {
		return fmt.Errorf("record %s: error message on %s record", r.Key, r.Status)
	}
	return nil
}
