package schedule

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexauth/nexauth-core/internal/audit"
	"github.com/nexauth/nexauth-core/internal/clock"
	"github.com/nexauth/nexauth-core/internal/infrastructure/database"
	"github.com/nexauth/nexauth-core/internal/infrastructure/logging"

	// Register embedded SQL migrations.
	_ "github.com/nexauth/nexauth-core/migrations"
)

// newTestController seeds an 08:00-22:00 UTC schedule with a 15 minute
// warning band and returns a controller on a pinned clock.
func newTestController(t *testing.T, at time.Time) (*Controller, *clock.Fixed, *audit.Repository) {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "schedule-test.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	repo := NewRepository(db)
	if err := repo.EnsureSeed(context.Background(), Schedule{
		OpeningHour:    8,
		ClosingHour:    22,
		WarningMinutes: 15,
		Timezone:       "UTC",
	}); err != nil {
		t.Fatalf("seeding schedule: %v", err)
	}

	clk := &clock.Fixed{T: at}
	auditRepo := audit.NewRepository(db)
	return NewController(db, repo, auditRepo, clk, logging.Default()), clk, auditRepo
}

func TestStatusOpenInterval(t *testing.T) {
	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"before opening", time.Date(2026, 3, 2, 7, 59, 0, 0, time.UTC), false},
		{"at opening", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), true},
		{"midday", time.Date(2026, 3, 2, 13, 30, 0, 0, time.UTC), true},
		{"last open minute", time.Date(2026, 3, 2, 21, 59, 0, 0, time.UTC), true},
		{"at closing", time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC), false},
		{"late night", time.Date(2026, 3, 2, 23, 30, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl, _, _ := newTestController(t, tc.at)

			status, err := ctrl.Status(context.Background())
			if err != nil {
				t.Fatalf("Status: %v", err)
			}
			if status.IsOpen != tc.open {
				t.Errorf("is_open = %v at %v, want %v", status.IsOpen, tc.at, tc.open)
			}
			if !tc.open && status.Message == "" {
				t.Error("closed status has no message")
			}
		})
	}
}

func TestStatusWarningBand(t *testing.T) {
	// 21:50 is 10 minutes before the 22:00 close, inside the 15 minute band.
	ctrl, _, _ := newTestController(t, time.Date(2026, 3, 2, 21, 50, 0, 0, time.UTC))

	status, err := ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.IsOpen {
		t.Fatal("window closed inside operating hours")
	}
	if !status.WarningActive {
		t.Error("warning not active 10 minutes before close")
	}
	if status.MinutesUntilClose != 10 {
		t.Errorf("minutes_until_close = %d, want 10", status.MinutesUntilClose)
	}
}

func TestStatusNoWarningOutsideBand(t *testing.T) {
	ctrl, _, _ := newTestController(t, time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC))

	status, err := ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.WarningActive {
		t.Error("warning active 60 minutes before close")
	}
}

func TestSetOverrideForcesWindow(t *testing.T) {
	// Outside operating hours.
	ctrl, _, _ := newTestController(t, time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))

	status, err := ctrl.SetOverride(context.Background(), "adm-test", true, "after-hours batch run", 0)
	if err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if !status.IsOpen || !status.OverrideActive {
		t.Errorf("forced-open status = %+v", status)
	}
	if status.OverrideReason != "after-hours batch run" {
		t.Errorf("override_reason = %q, want the supplied reason", status.OverrideReason)
	}

	// Force closed during operating hours suppresses the warning band.
	status, err = ctrl.SetOverride(context.Background(), "adm-test", false, "", 0)
	if err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	if status.IsOpen {
		t.Error("forced-closed window reports open")
	}
	if status.WarningActive {
		t.Error("warning band active under override")
	}
	if status.Message == "" {
		t.Error("forced-closed status has no message")
	}
}

func TestClearOverrideRestoresSchedule(t *testing.T) {
	ctrl, _, _ := newTestController(t, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))

	if _, err := ctrl.SetOverride(context.Background(), "adm-test", false, "maintenance", 0); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	status, err := ctrl.ClearOverride(context.Background(), "adm-test", "maintenance done")
	if err != nil {
		t.Fatalf("ClearOverride: %v", err)
	}
	if status.OverrideActive {
		t.Error("override still active after clear")
	}
	if status.OverrideReason != "" {
		t.Errorf("override_reason = %q after clear, want empty", status.OverrideReason)
	}
	if !status.IsOpen {
		t.Error("schedule not restored after clear at midday")
	}

	// Clearing again is a no-op, not an error.
	if _, err := ctrl.ClearOverride(context.Background(), "adm-test", ""); err != nil {
		t.Fatalf("second ClearOverride: %v", err)
	}
}

func TestOverrideAutoExpiry(t *testing.T) {
	ctrl, clk, auditRepo := newTestController(t, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))

	var notified []*Status
	ctrl.SetOnChange(func(s *Status) { notified = append(notified, s) })

	if _, err := ctrl.SetOverride(context.Background(), "adm-test", false, "incident", 30); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	notified = notified[:0]

	// Still inside the override duration.
	status, err := ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.IsOpen {
		t.Fatal("override expired early")
	}

	clk.Advance(31 * time.Minute)

	status, err = ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("Status after expiry: %v", err)
	}
	if status.OverrideActive {
		t.Error("expired override still active")
	}
	if !status.IsOpen {
		t.Error("schedule not restored after override expiry at midday")
	}

	if len(notified) != 1 {
		t.Errorf("change notifications = %d, want 1", len(notified))
	}

	result, err := auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionAutoRestore})
	if err != nil {
		t.Fatalf("listing audit entries: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("auto_restore entries = %d, want 1", result.Total)
	}
	if result.Entries[0].Actor != audit.SystemActor {
		t.Errorf("auto_restore actor = %q, want %q", result.Entries[0].Actor, audit.SystemActor)
	}

	var before, after Schedule
	if err := json.Unmarshal([]byte(result.Entries[0].OldState), &before); err != nil {
		t.Fatalf("decoding old_state %q: %v", result.Entries[0].OldState, err)
	}
	if err := json.Unmarshal([]byte(result.Entries[0].NewState), &after); err != nil {
		t.Fatalf("decoding new_state %q: %v", result.Entries[0].NewState, err)
	}
	if !before.OverrideActive || after.OverrideActive {
		t.Errorf("snapshots %+v -> %+v, want override cleared", before, after)
	}
}

func TestSetOverrideAuditSnapshotsAndReason(t *testing.T) {
	ctrl, _, auditRepo := newTestController(t, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))

	if _, err := ctrl.SetOverride(context.Background(), "adm-root", false, "emergency patching", 0); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	result, err := auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionSetOverride})
	if err != nil {
		t.Fatalf("listing audit entries: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("set_override entries = %d, want 1", result.Total)
	}

	entry := result.Entries[0]
	if entry.Reason != "emergency patching" {
		t.Errorf("reason = %q, want the supplied reason", entry.Reason)
	}

	var before, after Schedule
	if err := json.Unmarshal([]byte(entry.OldState), &before); err != nil {
		t.Fatalf("decoding old_state %q: %v", entry.OldState, err)
	}
	if err := json.Unmarshal([]byte(entry.NewState), &after); err != nil {
		t.Fatalf("decoding new_state %q: %v", entry.NewState, err)
	}
	if before.OverrideActive {
		t.Errorf("old_state = %+v, want no override before the mutation", before)
	}
	if !after.OverrideActive || after.OverrideOpen || after.OverrideReason != "emergency patching" {
		t.Errorf("new_state = %+v, want forced-closed override with reason", after)
	}
}

func TestUpdateHours(t *testing.T) {
	ctrl, _, auditRepo := newTestController(t, time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC))

	// 23:00 is outside the seeded hours but inside the new ones.
	status, err := ctrl.UpdateHours(context.Background(), "adm-test", HoursUpdate{
		OpeningHour:    6,
		ClosingHour:    23,
		ClosingMinute:  30,
		WarningMinutes: 10,
	})
	if err != nil {
		t.Fatalf("UpdateHours: %v", err)
	}
	if !status.IsOpen {
		t.Error("window closed after widening hours")
	}
	if status.OpeningTime != "06:00" || status.ClosingTime != "23:30" {
		t.Errorf("hours = %s-%s, want 06:00-23:30", status.OpeningTime, status.ClosingTime)
	}

	result, err := auditRepo.List(context.Background(), audit.Filter{Action: audit.ActionUpdateHours})
	if err != nil {
		t.Fatalf("listing audit entries: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("update_hours entries = %d, want 1", result.Total)
	}
}

func TestHoursUpdateValidate(t *testing.T) {
	cases := []struct {
		name   string
		update HoursUpdate
	}{
		{"hour out of range", HoursUpdate{OpeningHour: 24, ClosingHour: 22}},
		{"minute out of range", HoursUpdate{OpeningHour: 8, OpeningMinute: 60, ClosingHour: 22}},
		{"opening after closing", HoursUpdate{OpeningHour: 22, ClosingHour: 8}},
		{"opening equals closing", HoursUpdate{OpeningHour: 8, ClosingHour: 8}},
		{"negative warning", HoursUpdate{OpeningHour: 8, ClosingHour: 22, WarningMinutes: -1}},
		{"bad timezone", HoursUpdate{OpeningHour: 8, ClosingHour: 22, Timezone: "Nowhere/Invalid"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.update.Validate(); err == nil {
				t.Errorf("Validate accepted %+v", tc.update)
			}
		})
	}

	ok := HoursUpdate{OpeningHour: 8, ClosingHour: 22, WarningMinutes: 15, Timezone: "Europe/London"}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate rejected valid update: %v", err)
	}
}

func TestSetOverrideRejectsNegativeDuration(t *testing.T) {
	ctrl, _, _ := newTestController(t, time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))

	if _, err := ctrl.SetOverride(context.Background(), "adm-test", true, "", -5); err == nil {
		t.Error("negative duration accepted")
	}
}

func TestStatusTimezoneConversion(t *testing.T) {
	// 02:00 UTC on 2026-07-01 is 12:00 in Sydney (UTC+10), inside the
	// 08:00-22:00 local window.
	ctrl, _, _ := newTestController(t, time.Date(2026, 7, 1, 2, 0, 0, 0, time.UTC))

	if _, err := ctrl.UpdateHours(context.Background(), "adm-test", HoursUpdate{
		OpeningHour:    8,
		ClosingHour:    22,
		WarningMinutes: 15,
		Timezone:       "Australia/Sydney",
	}); err != nil {
		t.Fatalf("UpdateHours: %v", err)
	}

	status, err := ctrl.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.IsOpen {
		t.Error("window closed at 12:00 local time")
	}
}
