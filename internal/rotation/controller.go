// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package rotation

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/payment-platform/authgate/internal/autherr"
	"github.com/payment-platform/authgate/internal/config"
	"github.com/payment-platform/authgate/internal/consts"
	"github.com/payment-platform/authgate/internal/credentials"
)

// Vault is the slice of the vault client the controller needs. The
// controller is the only writer of credential rotation fields.
type Vault interface {
	ReadCredential(ctx context.Context, clientID string) (*credentials.Record, error)
	WriteCredential(ctx context.Context, rec *credentials.Record) error
	ReadJSON(ctx context.Context, path string, out interface{}) error
	WriteJSON(ctx context.Context, path string, in interface{}) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, path string) ([]string, error)
	AcquireLock(ctx context.Context, clientID, owner string, ttl time.Duration) error
	ReleaseLock(ctx context.Context, clientID, owner string) error
}

// Controller drives the rotation state machine:
//
//	NORMAL -> INITIATED -> DUAL_ACTIVE -> OLD_DEPRECATED -> RETIRED -> NORMAL
//
// Transitions are timestamp-driven and advanced either by the background
// tick or by an operator calling Advance directly. Advancement is
// idempotent; a vault outage never regresses state.
type Controller struct {
	vault  Vault
	store  credentials.Store
	stats  credentials.StatCounts
	sink   Sink
	cfg    config.Rotation
	logger hclog.Logger

	// owner identifies this process for the vault advisory lock.
	owner string

	now func() time.Time

	// mu guards the in-flight registry and the per-client advance locks.
	mu       sync.Mutex
	inFlight map[string]struct{}
	advance  map[string]*sync.Mutex
}

// NewController wires a Controller. store and stats may be nil in tests;
// the sink is mandatory because every transition must emit exactly one
// event.
func NewController(vault Vault, store credentials.Store, stats credentials.StatCounts,
	sink Sink, cfg config.Rotation, logger hclog.Logger,
) (*Controller, error) {
	if vault == nil {
		return nil, fmt.Errorf("vault client is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("event sink is required")
	}
	if cfg.TransitionPeriod <= 0 || cfg.DeprecationWindow <= 0 || cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("rotation periods must be positive")
	}
	return &Controller{
		vault:    vault,
		store:    store,
		stats:    stats,
		sink:     sink,
		cfg:      cfg,
		logger:   logger.Named("rotation"),
		owner:    uuid.NewString(),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
		advance:  make(map[string]*sync.Mutex),
	}, nil
}

// StartRotation introduces a new credential version for clientID and opens
// the dual-active window. The generated plaintext secret is returned exactly
// once, for delivery to the vendor; only its hash is stored.
func (c *Controller) StartRotation(ctx context.Context, clientID, reason string) (*Record, string, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, "", fmt.Errorf("%w: empty client id", autherr.ErrInvalidInput)
	}

	lockTTL := c.cfg.TransitionPeriod + c.cfg.DeprecationWindow + 2*c.cfg.CheckInterval
	if err := c.vault.AcquireLock(ctx, clientID, c.owner, lockTTL); err != nil {
		if errors.Is(err, autherr.ErrConflict) {
			return nil, "", fmt.Errorf("%w: client %s", autherr.ErrRotationConflict, clientID)
		}
		return nil, "", err
	}

	if existing, err := c.readRecord(ctx, clientID); err == nil && existing.Active() {
		c.releaseLock(ctx, clientID)
		return nil, "", fmt.Errorf("%w: client %s", autherr.ErrRotationConflict, clientID)
	} else if err != nil && !errors.Is(err, autherr.ErrNotFound) {
		c.releaseLock(ctx, clientID)
		return nil, "", err
	}

	credRec, err := c.vault.ReadCredential(ctx, clientID)
	if err != nil {
		c.releaseLock(ctx, clientID)
		return nil, "", err
	}

	now := c.now().UTC()
	acceptable := credRec.Acceptable(now)
	if len(acceptable) != 1 {
		c.releaseLock(ctx, clientID)
		return nil, "", fmt.Errorf("client %s has %d acceptable credentials, cannot rotate",
			clientID, len(acceptable))
	}
	old := acceptable[0]

	secret, err := generateSecret()
	if err != nil {
		c.releaseLock(ctx, clientID)
		return nil, "", err
	}
	hashed, err := credentials.HashSecret(secret)
	if err != nil {
		c.releaseLock(ctx, clientID)
		return nil, "", err
	}

	next := &credentials.Credential{
		ClientID:      clientID,
		HashedSecret:  hashed,
		Version:       newVersion(now),
		Active:        true,
		RotationState: credentials.RotationStateInitiated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	credRec.Credentials = append(credRec.Credentials, next)
	credRec.UpdatedAt = now

	// INITIATED: the new credential exists in the vault but is not yet
	// advertised. A write failure here aborts the rotation outright.
	if err := c.vault.WriteCredential(ctx, credRec); err != nil {
		c.releaseLock(ctx, clientID)
		return nil, "", fmt.Errorf("rotation aborted, failed to store new credential: %w", err)
	}
	c.emit(clientID, credentials.RotationStateNormal, credentials.RotationStateInitiated,
		old.Version, next.Version)

	// Advertise: both secrets authenticate from here on.
	old.RotationState = credentials.RotationStateDualActive
	old.UpdatedAt = now
	next.RotationState = credentials.RotationStateDualActive
	next.UpdatedAt = now
	if err := c.vault.WriteCredential(ctx, credRec); err != nil {
		c.abortInitiated(ctx, clientID, credRec, old, next)
		return nil, "", fmt.Errorf("rotation aborted, failed to advertise new credential: %w", err)
	}

	rec := &Record{
		ClientID:           clientID,
		State:              credentials.RotationStateDualActive,
		Reason:             reason,
		OldVersion:         old.Version,
		NewVersion:         next.Version,
		StartedAt:          now,
		TransitionDeadline: now.Add(c.cfg.TransitionPeriod),
	}
	if err := c.writeRecord(ctx, rec); err != nil {
		c.abortInitiated(ctx, clientID, credRec, old, next)
		return nil, "", err
	}
	c.emit(clientID, credentials.RotationStateInitiated, credentials.RotationStateDualActive,
		old.Version, next.Version)

	c.invalidate(ctx, clientID)
	c.track(clientID)
	rotationsStarted.Inc()
	c.logger.Info("started rotation", "client_id", clientID, "reason", reason,
		"old_version", old.Version, "new_version", next.Version)
	return rec, secret, nil
}

// Advance moves the rotation to the next legal state once its deadline has
// passed. Calling it early, repeatedly, or for a client with no active
// rotation is a no-op. Advancement is serialized per client, so the
// background tick and the operator endpoint never write concurrently.
func (c *Controller) Advance(ctx context.Context, clientID string) error {
	mu := c.advanceLock(clientID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := c.readRecord(ctx, clientID)
	if err != nil {
		if errors.Is(err, autherr.ErrNotFound) {
			c.untrack(clientID)
			return nil
		}
		return err
	}
	if !rec.Active() {
		c.untrack(clientID)
		return nil
	}
	// An active record found by an operator call keeps advancing on the
	// background tick even if this process did not start it.
	c.track(clientID)

	now := c.now().UTC()
	if !rec.Due(now) {
		return nil
	}

	// Confirm this instance owns the rotation before writing; the lock is
	// re-entrant for the owner and refreshes its TTL.
	lockTTL := c.cfg.TransitionPeriod + c.cfg.DeprecationWindow + 2*c.cfg.CheckInterval
	if err := c.vault.AcquireLock(ctx, clientID, c.owner, lockTTL); err != nil {
		if errors.Is(err, autherr.ErrConflict) {
			return fmt.Errorf("%w: rotation for %s is owned by another instance",
				autherr.ErrRotationConflict, clientID)
		}
		return err
	}

	switch rec.State {
	case credentials.RotationStateDualActive:
		return c.deprecateOld(ctx, rec, now)
	case credentials.RotationStateOldDeprecated:
		return c.retireOld(ctx, rec, now)
	default:
		return nil
	}
}

// deprecateOld transitions DUAL_ACTIVE -> OLD_DEPRECATED: both secrets
// still authenticate, but old-secret use starts warning.
func (c *Controller) deprecateOld(ctx context.Context, rec *Record, now time.Time) error {
	credRec, err := c.vault.ReadCredential(ctx, rec.ClientID)
	if err != nil {
		return err
	}
	old := credRec.Find(rec.OldVersion)
	if old == nil {
		return fmt.Errorf("rotation record for %s references missing version %s",
			rec.ClientID, rec.OldVersion)
	}
	old.RotationState = credentials.RotationStateOldDeprecated
	old.UpdatedAt = now
	credRec.UpdatedAt = now
	if err := c.vault.WriteCredential(ctx, credRec); err != nil {
		return err
	}

	rec.State = credentials.RotationStateOldDeprecated
	rec.DeprecatedAt = &now
	rec.TransitionDeadline = now.Add(c.cfg.DeprecationWindow)
	if err := c.writeRecord(ctx, rec); err != nil {
		return err
	}

	c.emit(rec.ClientID, credentials.RotationStateDualActive,
		credentials.RotationStateOldDeprecated, rec.OldVersion, rec.NewVersion)
	c.invalidate(ctx, rec.ClientID)
	return nil
}

// retireOld transitions OLD_DEPRECATED -> RETIRED -> NORMAL: the old
// credential stops authenticating and the new one becomes the sole active
// secret. The retired version is kept in the record for audit.
func (c *Controller) retireOld(ctx context.Context, rec *Record, now time.Time) error {
	credRec, err := c.vault.ReadCredential(ctx, rec.ClientID)
	if err != nil {
		return err
	}
	old := credRec.Find(rec.OldVersion)
	next := credRec.Find(rec.NewVersion)
	if old == nil || next == nil {
		return fmt.Errorf("rotation record for %s references missing versions", rec.ClientID)
	}
	old.Active = false
	old.RotationState = credentials.RotationStateRetired
	old.UpdatedAt = now
	next.RotationState = credentials.RotationStateNormal
	next.UpdatedAt = now
	credRec.UpdatedAt = now
	if err := c.vault.WriteCredential(ctx, credRec); err != nil {
		return err
	}

	rec.State = credentials.RotationStateNormal
	rec.CompletedAt = &now
	rec.Stats = c.collectStats(ctx, rec)
	if err := c.writeRecord(ctx, rec); err != nil {
		return err
	}

	c.emit(rec.ClientID, credentials.RotationStateOldDeprecated,
		credentials.RotationStateRetired, rec.OldVersion, rec.NewVersion)
	c.emit(rec.ClientID, credentials.RotationStateRetired,
		credentials.RotationStateNormal, rec.OldVersion, rec.NewVersion)

	c.invalidate(ctx, rec.ClientID)
	c.releaseLock(ctx, rec.ClientID)
	c.untrack(rec.ClientID)
	rotationsCompleted.Inc()
	c.logger.Info("completed rotation", "client_id", rec.ClientID,
		"new_version", rec.NewVersion, "stats", rec.Stats)
	return nil
}

// Abort cancels a rotation from INITIATED or DUAL_ACTIVE: the new
// credential is removed and the old one returns to NORMAL.
func (c *Controller) Abort(ctx context.Context, clientID string) error {
	mu := c.advanceLock(clientID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := c.readRecord(ctx, clientID)
	if err != nil {
		return err
	}
	if !rec.Active() {
		return fmt.Errorf("%w: rotation for %s already completed", autherr.ErrInvalidInput, clientID)
	}
	switch rec.State {
	case credentials.RotationStateInitiated, credentials.RotationStateDualActive:
	default:
		return fmt.Errorf("%w: cannot abort rotation in state %s", autherr.ErrInvalidInput, rec.State)
	}

	credRec, err := c.vault.ReadCredential(ctx, clientID)
	if err != nil {
		return err
	}
	now := c.now().UTC()
	kept := credRec.Credentials[:0]
	for _, cred := range credRec.Credentials {
		if cred.Version == rec.NewVersion {
			continue
		}
		if cred.Version == rec.OldVersion {
			cred.RotationState = credentials.RotationStateNormal
			cred.UpdatedAt = now
		}
		kept = append(kept, cred)
	}
	credRec.Credentials = kept
	credRec.UpdatedAt = now
	if err := c.vault.WriteCredential(ctx, credRec); err != nil {
		return err
	}

	from := rec.State
	rec.State = credentials.RotationStateNormal
	rec.CompletedAt = &now
	if err := c.writeRecord(ctx, rec); err != nil {
		return err
	}
	c.emit(clientID, from, credentials.RotationStateNormal, rec.OldVersion, rec.NewVersion)

	c.invalidate(ctx, clientID)
	c.releaseLock(ctx, clientID)
	c.untrack(clientID)
	rotationsAborted.Inc()
	c.logger.Info("aborted rotation", "client_id", clientID, "from", from)
	return nil
}

// Status returns the rotation record with its stats counters filled in.
func (c *Controller) Status(ctx context.Context, clientID string) (*Record, error) {
	rec, err := c.readRecord(ctx, clientID)
	if err != nil {
		return nil, err
	}
	rec.Stats = c.collectStats(ctx, rec)
	return rec, nil
}

// Run drives periodic advancement until ctx is canceled. Rotations left
// active by a previous process are picked up before the first tick.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	c.resume(ctx)
	c.logger.Info("rotation controller running", "check_interval", c.cfg.CheckInterval)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("rotation controller stopping")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	c.mu.Lock()
	clients := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		clients = append(clients, id)
	}
	c.mu.Unlock()

	for _, id := range clients {
		if err := c.Advance(ctx, id); err != nil {
			// Outages do not regress state; the next tick retries.
			c.logger.Warn("advance failed, will retry", "client_id", id, "error", err)
		}
	}
}

// resume re-tracks every rotation still active in the vault, so advancement
// continues across restarts and on instances that did not start it.
func (c *Controller) resume(ctx context.Context) {
	ids, err := c.vault.List(ctx, consts.VaultRotationListPath)
	if err != nil {
		c.logger.Warn("failed to scan for active rotations", "error", err)
		return
	}
	for _, id := range ids {
		rec, err := c.readRecord(ctx, id)
		if err != nil || !rec.Active() {
			continue
		}
		c.track(id)
		c.logger.Info("resuming rotation", "client_id", id, "state", rec.State)
	}
}

// abortInitiated rolls back a rotation that failed before it was fully
// advertised: the new credential version is removed and the rotation's old
// version returns to NORMAL. Versions retired by earlier rotations are left
// untouched.
func (c *Controller) abortInitiated(ctx context.Context, clientID string,
	credRec *credentials.Record, old, next *credentials.Credential,
) {
	kept := credRec.Credentials[:0]
	for _, cred := range credRec.Credentials {
		if cred.Version == next.Version {
			continue
		}
		kept = append(kept, cred)
	}
	old.RotationState = credentials.RotationStateNormal
	credRec.Credentials = kept
	if err := c.vault.WriteCredential(ctx, credRec); err != nil {
		c.logger.Error("failed to roll back initiated rotation",
			"client_id", clientID, "error", err)
	}
	c.releaseLock(ctx, clientID)
}

func (c *Controller) collectStats(ctx context.Context, rec *Record) map[string]int64 {
	if c.stats == nil {
		return rec.Stats
	}
	stats := make(map[string]int64, 2)
	for _, v := range []string{rec.OldVersion, rec.NewVersion} {
		n, err := c.stats.GetCounter(ctx, consts.PrefixRotation+rec.ClientID+":"+v)
		if err != nil {
			continue
		}
		stats[v] = n
	}
	return stats
}

func (c *Controller) readRecord(ctx context.Context, clientID string) (*Record, error) {
	var rec Record
	path := fmt.Sprintf(consts.VaultRotationPathFmt, clientID)
	if err := c.vault.ReadJSON(ctx, path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Controller) writeRecord(ctx context.Context, rec *Record) error {
	path := fmt.Sprintf(consts.VaultRotationPathFmt, rec.ClientID)
	return c.vault.WriteJSON(ctx, path, rec)
}

func (c *Controller) emit(clientID string, from, to credentials.RotationState, oldV, newV string) {
	c.sink.Emit(Event{
		ClientID:   clientID,
		From:       from,
		To:         to,
		At:         c.now().UTC(),
		OldVersion: oldV,
		NewVersion: newV,
	})
}

func (c *Controller) invalidate(ctx context.Context, clientID string) {
	if c.store == nil {
		return
	}
	if err := c.store.InvalidateCredential(ctx, clientID); err != nil {
		c.logger.Debug("failed to invalidate cached credential", "client_id", clientID, "error", err)
	}
}

func (c *Controller) releaseLock(ctx context.Context, clientID string) {
	if err := c.vault.ReleaseLock(ctx, clientID, c.owner); err != nil {
		c.logger.Warn("failed to release rotation lock", "client_id", clientID, "error", err)
	}
}

func (c *Controller) track(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[clientID] = struct{}{}
}

func (c *Controller) untrack(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, clientID)
}

// advanceLock returns the per-client mutex serializing state transitions.
func (c *Controller) advanceLock(clientID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.advance[clientID]
	if !ok {
		m = &sync.Mutex{}
		c.advance[clientID] = m
	}
	return m
}

// newVersion produces a monotonically increasing, lexically sortable
// version string.
func newVersion(now time.Time) string {
	return fmt.Sprintf("%020d", now.UnixNano())
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
