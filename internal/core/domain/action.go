package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ActionKind string

const (
	ActionInsert ActionKind = "insert"
	ActionUpdate ActionKind = "update"
	ActionDelete ActionKind = "delete"
)

func ParseActionKind(raw string) (ActionKind, error) {
	switch k := ActionKind(raw); k {
	case ActionInsert, ActionUpdate, ActionDelete:
		return k, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse action kind", fmt.Errorf("unknown kind %q", raw))
	}
}

// QueuedAction is a mutation captured while the client was disconnected.
type QueuedAction struct {
	ID           string          `json:"id"`
	Kind         ActionKind      `json:"kind"`
	TargetEntity string          `json:"targetEntity"`
	Data         json.RawMessage `json:"data"`
	Timestamp    time.Time       `json:"timestamp"`
	RetryCount   int             `json:"retryCount"`
}

// EntityID returns the "id" field of the action data, used by update and delete.
func (a QueuedAction) EntityID() (string, error) {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(a.Data, &probe); err != nil {
		return "", WrapError(ErrInvalidInput, "decode action data", err)
	}
	if probe.ID == "" {
		return "", WrapError(ErrInvalidInput, "decode action data", fmt.Errorf("%s action on %s has no id", a.Kind, a.TargetEntity))
	}
	return probe.ID, nil
}

type FlushReport struct {
	Replayed          int            `json:"replayed"`
	Retrying          int            `json:"retrying"`
	PermanentlyFailed []QueuedAction `json:"permanentlyFailed,omitempty"`
}
