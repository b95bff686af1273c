// Package soar executes automated response actions (blocking an IP,
// disabling an account, sending a notification) with idempotency,
// per-target serialization and an append-only audit trail.
package soar

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"argus-siem/internal/schema"
	"argus-siem/internal/store"
)

var (
	// ErrInvalidAction indicates an unknown action type.
	ErrInvalidAction = errors.New("invalid action type")
	// ErrInvalidTarget indicates a target whose shape does not match
	// the action type.
	ErrInvalidTarget = errors.New("invalid target")
)

// Enforcer executes an action against the real enforcement surface
// (firewall, IAM system, notification gateway). Returned errors are
// treated as transient and retried.
type Enforcer interface {
	Execute(ctx context.Context, action schema.ActionType, target, reason string) error
}

// EnforcerFunc adapts a function to the Enforcer interface.
type EnforcerFunc func(ctx context.Context, action schema.ActionType, target, reason string) error

func (f EnforcerFunc) Execute(ctx context.Context, action schema.ActionType, target, reason string) error {
	return f(ctx, action, target, reason)
}

// Config holds dispatcher configuration.
type Config struct {
	// MaxRetries bounds re-attempts after the first enforcement call.
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff is the initial delay between attempts, doubled each
	// retry.
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	// CallTimeout bounds each individual enforcement call.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// Stripes is the number of lock shards for per-target serialization.
	Stripes int `yaml:"stripes"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
		CallTimeout:  10 * time.Second,
		Stripes:      32,
	}
}

// actionStatus tracks the per-dispatch state machine.
type actionStatus string

const (
	statusPending         actionStatus = "pending"
	statusExecuting       actionStatus = "executing"
	statusSucceeded       actionStatus = "succeeded"
	statusFailedRetryable actionStatus = "failed_retryable"
	statusFailedTerminal  actionStatus = "failed_terminal"
)

// Dispatcher runs response actions. Calls for the same target are
// serialized; distinct targets run in parallel.
type Dispatcher struct {
	config   Config
	enforcer Enforcer
	states   StateStore
	audit    store.Store
	logger   *slog.Logger
	locks    []sync.Mutex
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config, enforcer Enforcer, states StateStore, audit store.Store, logger *slog.Logger) *Dispatcher {
	if cfg.Stripes <= 0 {
		cfg.Stripes = DefaultConfig().Stripes
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		config:   cfg,
		enforcer: enforcer,
		states:   states,
		audit:    audit,
		logger:   logger.With("component", "soar"),
		locks:    make([]sync.Mutex, cfg.Stripes),
	}
}

// Execute runs one response action. Validation failures return an error
// and leave no audit record; every attempted execution appends exactly
// one audit record, success or not. A permanent enforcement failure is
// reported through the record's Success=false, not as an error.
func (d *Dispatcher) Execute(ctx context.Context, actionType schema.ActionType, target, reason string) (*schema.SOARAction, error) {
	if !actionType.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, actionType)
	}
	target = strings.TrimSpace(target)
	if err := validateTarget(actionType, target); err != nil {
		return nil, err
	}

	key := stateKey(actionType, target)
	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	action := &schema.SOARAction{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		ActionType: actionType,
		Target:     target,
		Reason:     reason,
	}

	// A previously successful outcome makes the repeat a no-op.
	if prior, err := d.states.Get(ctx, key); err == nil && prior.Success {
		action.Success = true
		action.Message = fmt.Sprintf("%s already applied to %s; no action taken", actionType, target)
		d.appendAudit(ctx, action)
		return action, nil
	} else if err != nil && !errors.Is(err, ErrStateNotFound) {
		d.logger.Warn("action state lookup failed", "key", key, "error", err)
	}

	status := statusPending
	var lastErr error

	backoff := d.config.RetryBackoff
	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				status = statusFailedTerminal
			case <-time.After(backoff):
				backoff *= 2
			}
			if status == statusFailedTerminal {
				break
			}
		}

		status = statusExecuting
		callCtx, cancel := context.WithTimeout(ctx, d.config.CallTimeout)
		err := d.enforcer.Execute(callCtx, actionType, target, reason)
		cancel()

		if err == nil {
			status = statusSucceeded
			break
		}

		lastErr = err
		status = statusFailedRetryable
		d.logger.Warn("enforcement call failed",
			"action", string(actionType),
			"target", target,
			"attempt", attempt+1,
			"error", err,
		)
	}
	if status == statusFailedRetryable {
		status = statusFailedTerminal
	}

	switch status {
	case statusSucceeded:
		action.Success = true
		action.Message = fmt.Sprintf("%s applied to %s", actionType, target)
	default:
		action.Success = false
		action.Message = fmt.Sprintf("%s failed after %d attempts: %v", actionType, d.config.MaxRetries+1, lastErr)
	}

	state := &ActionState{
		ActionID:  action.ID,
		Success:   action.Success,
		Message:   action.Message,
		UpdatedAt: time.Now().UTC(),
	}
	if err := d.states.Set(ctx, key, state); err != nil {
		d.logger.Warn("persist action state failed", "key", key, "error", err)
	}

	d.appendAudit(ctx, action)
	return action, nil
}

func (d *Dispatcher) appendAudit(ctx context.Context, action *schema.SOARAction) {
	if err := d.audit.AppendAction(ctx, action); err != nil {
		d.logger.Error("append audit record failed",
			"action_id", action.ID,
			"action", string(action.ActionType),
			"error", err,
		)
		return
	}
	d.logger.Info("response action recorded",
		"action_id", action.ID,
		"action", string(action.ActionType),
		"target", action.Target,
		"success", action.Success,
	)
}

func (d *Dispatcher) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &d.locks[h.Sum32()%uint32(len(d.locks))]
}

func stateKey(actionType schema.ActionType, target string) string {
	return string(actionType) + "|" + target
}

// validateTarget checks the target shape for the action type.
func validateTarget(actionType schema.ActionType, target string) error {
	if target == "" {
		return fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}

	switch actionType {
	case schema.ActionBlockIP:
		if net.ParseIP(target) == nil {
			return fmt.Errorf("%w: %q is not an IP address", ErrInvalidTarget, target)
		}
	case schema.ActionDisableAccount:
		if strings.ContainsAny(target, " \t\n") {
			return fmt.Errorf("%w: account identifier contains whitespace", ErrInvalidTarget)
		}
	case schema.ActionSendNotification:
		if !isAddressLike(target) {
			return fmt.Errorf("%w: %q is not an email address or URL", ErrInvalidTarget, target)
		}
	}
	return nil
}

// isAddressLike accepts an email address or an absolute http(s) URL.
func isAddressLike(target string) bool {
	if strings.Count(target, "@") == 1 && !strings.HasPrefix(target, "@") && !strings.HasSuffix(target, "@") {
		return true
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
