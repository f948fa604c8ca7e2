package livesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-access/internal/credential"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// ErrInvalidChange is returned for credential change notifications that
// cannot be acted on.
var ErrInvalidChange = errors.New("livesync: invalid credential change")

// Change is the payload published on the credential changed topic by the
// administration layer.
type Change struct {
	CredentialID string    `json:"credential_id"`
	Action       Operation `json:"action"`

	// Type, Value and UserID describe the credential as it was before a
	// delete. They are ignored for upserts, which read the current state.
	Type     credential.Type `json:"type,omitempty"`
	Value    string          `json:"value,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	UserName string          `json:"user_name,omitempty"`
}

// Runner is the part of the orchestrator a Trigger drives.
type Runner interface {
	Sync(ctx context.Context, credentialID string) *Report
	Revoke(ctx context.Context, subject credential.Subject, userID string) *Report
}

// Trigger starts sync runs in the background, detached from whoever asked
// for them but bounded by a service-level context.
type Trigger struct {
	ctx    context.Context
	runner Runner
	logger Logger

	// mu orders wg.Add against Wait: once closed is set no run starts.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTrigger creates a Trigger whose runs stop when ctx is cancelled.
func NewTrigger(ctx context.Context, runner Runner) *Trigger {
	return &Trigger{ctx: ctx, runner: runner, logger: noopLogger{}}
}

// SetLogger sets the logger for trigger handling.
func (t *Trigger) SetLogger(logger Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Enqueue starts a background Sync of credentialID.
func (t *Trigger) Enqueue(credentialID string) {
	t.run(func(ctx context.Context) { t.runner.Sync(ctx, credentialID) })
}

// HandleMessage is an mqtt.MessageHandler for the credential changed topic.
// The credential ID in the topic wins over the one in the payload.
func (t *Trigger) HandleMessage(topic string, payload []byte) error {
	id, err := mqtt.CredentialIDFromTopic(topic)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChange, err)
	}

	change := Change{Action: OperationUpsert}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &change); err != nil {
			return fmt.Errorf("%w: decoding payload: %w", ErrInvalidChange, err)
		}
	}
	change.CredentialID = id

	switch change.Action {
	case OperationUpsert, "":
		t.Enqueue(id)
	case OperationDelete:
		if change.Value == "" || !change.Type.Valid() {
			return fmt.Errorf("%w: delete of %s needs type and value", ErrInvalidChange, id)
		}
		subject := credential.Subject{
			CredentialID: id,
			Type:         change.Type,
			Value:        change.Value,
			UserID:       change.UserID,
			UserName:     change.UserName,
		}
		t.run(func(ctx context.Context) { t.runner.Revoke(ctx, subject, change.UserID) })
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidChange, change.Action)
	}

	t.logger.Debug("livesync triggered", "credential_id", id, "action", change.Action)
	return nil
}

// Wait stops the trigger accepting new runs and blocks until every started
// run has finished.
func (t *Trigger) Wait() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Trigger) run(fn func(ctx context.Context)) {
	t.mu.Lock()
	if t.closed || t.ctx.Err() != nil {
		t.mu.Unlock()
		t.logger.Warn("livesync trigger ignored, shutting down")
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("livesync run panicked", "panic", r)
			}
		}()
		fn(t.ctx)
	}()
}
