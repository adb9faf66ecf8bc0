// Package schedule implements the service window: daily operating
// hours, manual overrides with optional expiry, and the status
// document pushed to subscribers on every change.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nexauth/nexauth-core/internal/audit"
	"github.com/nexauth/nexauth-core/internal/clock"
	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"
)

// Status is the window status document returned by the status endpoint
// and pushed over WebSocket/MQTT on every change.
type Status struct {
	IsOpen            bool       `json:"is_open"`
	OverrideActive    bool       `json:"override_active"`
	OverrideOpen      bool       `json:"override_open,omitempty"`
	OverrideReason    string     `json:"override_reason,omitempty"`
	OverrideExpiresAt *time.Time `json:"override_expires_at,omitempty"`
	OpeningTime       string     `json:"opening_time"`
	ClosingTime       string     `json:"closing_time"`
	Timezone          string     `json:"timezone"`
	WarningActive     bool       `json:"warning_active"`
	MinutesUntilClose int        `json:"minutes_until_close,omitempty"`
	Message           string     `json:"message,omitempty"`
	CurrentTime       time.Time  `json:"current_time"`
}

// HoursUpdate is an admin operating-hours mutation.
type HoursUpdate struct {
	OpeningHour    int    `json:"opening_hour"`
	OpeningMinute  int    `json:"opening_minute"`
	ClosingHour    int    `json:"closing_hour"`
	ClosingMinute  int    `json:"closing_minute"`
	WarningMinutes int    `json:"warning_minutes"`
	Timezone       string `json:"timezone"`
}

// Validate checks the update ranges.
func (u HoursUpdate) Validate() error {
	if u.OpeningHour < 0 || u.OpeningHour > 23 || u.ClosingHour < 0 || u.ClosingHour > 23 {
		return fmt.Errorf("hours must be between 0 and 23")
	}
	if u.OpeningMinute < 0 || u.OpeningMinute > 59 || u.ClosingMinute < 0 || u.ClosingMinute > 59 {
		return fmt.Errorf("minutes must be between 0 and 59")
	}
	if u.WarningMinutes < 0 {
		return fmt.Errorf("warning_minutes must not be negative")
	}
	if u.OpeningHour*60+u.OpeningMinute >= u.ClosingHour*60+u.ClosingMinute {
		return fmt.Errorf("opening time must be before closing time")
	}
	if u.Timezone != "" {
		if _, err := time.LoadLocation(u.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	return nil
}

// Controller decides whether the service window is open and applies
// admin mutations. All mutations write the schedule row and an audit
// entry in one transaction, then notify the change callback.
type Controller struct {
	db    *database.DB
	repo  *Repository
	audit *audit.Repository
	clk   clock.Clock
	log   *logging.Logger

	// mu serialises the expired-override auto-clear so concurrent
	// status reads produce a single auto_restore audit entry.
	mu sync.Mutex

	onChange func(*Status)
}

// NewController creates a window controller.
func NewController(db *database.DB, repo *Repository, auditRepo *audit.Repository, clk clock.Clock, log *logging.Logger) *Controller {
	return &Controller{
		db:    db,
		repo:  repo,
		audit: auditRepo,
		clk:   clk,
		log:   log.With("component", "schedule"),
	}
}

// SetOnChange registers the callback invoked after every committed
// status change (admin mutation or automatic override expiry). The
// callback must not block.
func (c *Controller) SetOnChange(fn func(*Status)) {
	c.onChange = fn
}

// IsOpen reports whether the window currently accepts auth flows.
func (c *Controller) IsOpen(ctx context.Context) (bool, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.IsOpen, nil
}

// Status resolves the current window status. An active override whose
// expiry has passed is cleared here, with a system-attributed audit
// entry, before the schedule is consulted.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sched, err := c.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := c.clk.Now()

	if sched.OverrideActive && sched.OverrideExpiresAt != nil && !now.Before(*sched.OverrideExpiresAt) {
		sched, err = c.clearExpiredOverride(ctx, sched, now)
		if err != nil {
			return nil, err
		}
	}

	return c.buildStatus(sched, now), nil
}

// clearExpiredOverride persists the auto-restore and notifies
// subscribers. Called with mu held.
func (c *Controller) clearExpiredOverride(ctx context.Context, sched *Schedule, now time.Time) (*Schedule, error) {
	cleared := *sched
	cleared.OverrideActive = false
	cleared.OverrideOpen = false
	cleared.OverrideReason = ""
	cleared.OverrideExpiresAt = nil

	entry := &audit.Entry{
		Action:    audit.ActionAutoRestore,
		Actor:     audit.SystemActor,
		OldState:  snapshotJSON(sched),
		NewState:  snapshotJSON(&cleared),
		Reason:    "manual override expired, schedule restored",
		CreatedAt: now,
	}
	if err := c.commit(ctx, &cleared, entry, now); err != nil {
		return nil, fmt.Errorf("clearing expired override: %w", err)
	}

	c.log.Info("manual override expired", "restored_at", now)
	c.notify(c.buildStatus(&cleared, now))
	return &cleared, nil
}

// UpdateHours replaces the daily operating hours.
func (c *Controller) UpdateHours(ctx context.Context, actor string, update HoursUpdate) (*Status, error) {
	if err := update.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operating hours: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sched, err := c.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := c.clk.Now()

	next := *sched
	next.OpeningHour = update.OpeningHour
	next.OpeningMinute = update.OpeningMinute
	next.ClosingHour = update.ClosingHour
	next.ClosingMinute = update.ClosingMinute
	next.WarningMinutes = update.WarningMinutes
	if update.Timezone != "" {
		next.Timezone = update.Timezone
	}

	entry := &audit.Entry{
		Action:   audit.ActionUpdateHours,
		Actor:    actor,
		OldState: snapshotJSON(sched),
		NewState: snapshotJSON(&next),
		Reason: fmt.Sprintf("hours %02d:%02d-%02d:%02d -> %02d:%02d-%02d:%02d",
			sched.OpeningHour, sched.OpeningMinute, sched.ClosingHour, sched.ClosingMinute,
			next.OpeningHour, next.OpeningMinute, next.ClosingHour, next.ClosingMinute),
		CreatedAt: now,
	}
	if err := c.commit(ctx, &next, entry, now); err != nil {
		return nil, err
	}

	c.log.Info("operating hours updated", "actor", actor)
	status := c.buildStatus(&next, now)
	c.notify(status)
	return status, nil
}

// SetOverride forces the window open or closed. durationMinutes > 0
// arms automatic expiry; 0 keeps the override until cleared. The
// reason is stored on the schedule row and surfaced in the status
// document while the override is active.
func (c *Controller) SetOverride(ctx context.Context, actor string, open bool, reason string, durationMinutes int) (*Status, error) {
	if durationMinutes < 0 {
		return nil, fmt.Errorf("invalid override: duration must not be negative")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sched, err := c.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := c.clk.Now()

	next := *sched
	next.OverrideActive = true
	next.OverrideOpen = open
	next.OverrideReason = reason
	next.OverrideExpiresAt = nil
	if durationMinutes > 0 {
		expires := now.Add(time.Duration(durationMinutes) * time.Minute)
		next.OverrideExpiresAt = &expires
	}

	entry := &audit.Entry{
		Action:    audit.ActionSetOverride,
		Actor:     actor,
		OldState:  snapshotJSON(sched),
		NewState:  snapshotJSON(&next),
		Reason:    reason,
		CreatedAt: now,
	}
	if err := c.commit(ctx, &next, entry, now); err != nil {
		return nil, err
	}

	c.log.Info("manual override set", "actor", actor, "open", open, "duration_minutes", durationMinutes)
	status := c.buildStatus(&next, now)
	c.notify(status)
	return status, nil
}

// ClearOverride removes any manual override. Clearing when none is
// active is a no-op that still returns the current status.
func (c *Controller) ClearOverride(ctx context.Context, actor, reason string) (*Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sched, err := c.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := c.clk.Now()

	if !sched.OverrideActive {
		return c.buildStatus(sched, now), nil
	}

	next := *sched
	next.OverrideActive = false
	next.OverrideOpen = false
	next.OverrideReason = ""
	next.OverrideExpiresAt = nil

	entry := &audit.Entry{
		Action:    audit.ActionClearOverride,
		Actor:     actor,
		OldState:  snapshotJSON(sched),
		NewState:  snapshotJSON(&next),
		Reason:    reason,
		CreatedAt: now,
	}
	if err := c.commit(ctx, &next, entry, now); err != nil {
		return nil, err
	}

	c.log.Info("manual override cleared", "actor", actor)
	status := c.buildStatus(&next, now)
	c.notify(status)
	return status, nil
}

// commit writes the schedule row and its audit entry in one transaction.
func (c *Controller) commit(ctx context.Context, sched *Schedule, entry *audit.Entry, now time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := c.repo.SaveTx(ctx, tx, sched, now); err != nil {
		return err
	}
	if err := c.audit.AppendTx(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schedule change: %w", err)
	}
	return nil
}

func (c *Controller) notify(status *Status) {
	if c.onChange != nil {
		c.onChange(status)
	}
}

// buildStatus computes the status document for a schedule at an instant.
func (c *Controller) buildStatus(sched *Schedule, now time.Time) *Status {
	status := &Status{
		OverrideActive:    sched.OverrideActive,
		OverrideOpen:      sched.OverrideOpen,
		OverrideReason:    sched.OverrideReason,
		OverrideExpiresAt: sched.OverrideExpiresAt,
		OpeningTime:       fmt.Sprintf("%02d:%02d", sched.OpeningHour, sched.OpeningMinute),
		ClosingTime:       fmt.Sprintf("%02d:%02d", sched.ClosingHour, sched.ClosingMinute),
		Timezone:          sched.Timezone,
		CurrentTime:       now.UTC(),
	}

	if sched.OverrideActive {
		// Warning band is suppressed under override: the schedule's
		// closing time is not what will close the window.
		status.IsOpen = sched.OverrideOpen
		if !status.IsOpen {
			status.Message = "System is temporarily closed by an administrator."
		}
		return status
	}

	local := now
	if loc, err := time.LoadLocation(sched.Timezone); err == nil {
		local = now.In(loc)
	}

	minuteOfDay := local.Hour()*60 + local.Minute()
	opening := sched.OpeningHour*60 + sched.OpeningMinute
	closing := sched.ClosingHour*60 + sched.ClosingMinute

	// Open interval is [opening, closing).
	status.IsOpen = minuteOfDay >= opening && minuteOfDay < closing

	switch {
	case !status.IsOpen:
		status.Message = fmt.Sprintf("System is currently closed. Operating hours are %s - %s (%s).",
			status.OpeningTime, status.ClosingTime, sched.Timezone)
	case closing-minuteOfDay <= sched.WarningMinutes:
		status.WarningActive = true
		status.MinutesUntilClose = closing - minuteOfDay
		status.Message = fmt.Sprintf("System closing in %d minutes. Please save your work.",
			status.MinutesUntilClose)
	}

	return status
}

// snapshotJSON serialises a schedule row for the audit trail.
func snapshotJSON(s *Schedule) string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}
