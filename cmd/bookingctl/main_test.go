package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mobibook/internal/database"
	"mobibook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t      *testing.T
	config string
	db     string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	dir := t.TempDir()
	c := &cli{t: t, config: filepath.Join(dir, "config.yaml"), db: filepath.Join(dir, "mobibook.db")}
	yaml := "database:\n  path: " + c.db + "\nbackup:\n  storage_path: " + filepath.Join(dir, "backups") + "\n  retention_days: 7\nlogging:\n  level: error\n"
	require.NoError(t, os.WriteFile(c.config, []byte(yaml), 0o644))
	return c
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", c.config}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c *cli) store() *database.DB {
	c.t.Helper()
	db, err := database.NewDB(c.db, nil)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { db.Close() })
	return db
}

func TestSlotsGenerateAndList(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("slots", "generate", "--from", "2026-03-02", "--to", "2026-03-08", "--weekdays", "mon,wed", "--times", "09:00, 14:30")
	require.NoError(t, err)
	assert.Equal(t, "created 4, skipped 0\n", out)

	out, err = c.run("slots", "generate", "--from", "2026-03-02", "--to", "2026-03-02", "--times", "09:00")
	require.NoError(t, err)
	assert.Equal(t, "created 0, skipped 1\n", out)

	out, err = c.run("slots", "list", "--from", "2026-03-04")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "DATE")
	assert.Contains(t, lines[1], "2026-03-04")
	assert.Contains(t, lines[2], "14:30")
}

func TestSlotsGenerateEveryOtherWeek(t *testing.T) {
	c := newCLI(t)
	out, err := c.run("slots", "generate", "--from", "2026-03-02", "--to", "2026-03-15", "--weekdays", "monday", "--times", "09:00", "--every-weeks", "2")
	require.NoError(t, err)
	assert.Equal(t, "created 1, skipped 0\n", out)
}

func TestSlotsGenerateFromPlan(t *testing.T) {
	c := newCLI(t)
	plan := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(plan, []byte(`
from: "2026-03-02"
to: "2026-03-03"
times: ["10:00"]
templates:
  tue: ["08:00", "12:00"]
notes: spring
`), 0o644))

	out, err := c.run("slots", "generate", "--plan", plan)
	require.NoError(t, err)
	assert.Equal(t, "created 3, skipped 0\n", out)
}

func TestSlotsGenerateRejectsBadPlan(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("slots", "generate", "--from", "2026-03-09", "--to", "2026-03-02", "--times", "09:00")
	assert.Error(t, err)
}

func TestSlotsDelete(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("slots", "generate", "--from", "2026-03-02", "--to", "2026-03-02", "--times", "09:00")
	require.NoError(t, err)

	out, err := c.run("slots", "delete", "1")
	require.NoError(t, err)
	assert.Equal(t, "deleted slot 1\n", out)

	_, err = c.run("slots", "delete", "1")
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = c.run("slots", "delete", "abc")
	assert.Error(t, err)
}

func TestBookingsShowAndAudit(t *testing.T) {
	c := newCLI(t)
	db := c.store()
	ctx := context.Background()

	slot := &models.Slot{Date: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), StartTime: "09:00"}
	require.NoError(t, db.CreateSlot(ctx, slot))
	booking := &models.Booking{Reference: "MB-0000CAFE", SlotID: slot.ID, CustomerID: "c1", TotalPrice: 4500, Status: models.StatusPending}
	require.NoError(t, db.CreateBooking(ctx, booking))
	require.NoError(t, db.AppendAudit(ctx, &models.AuditEntry{BookingID: booking.ID, Action: models.AuditBookingCreated, Actor: "ops", CreatedAt: time.Now().UTC()}))

	out, err := c.run("bookings", "show", "MB-0000CAFE")
	require.NoError(t, err)
	assert.Contains(t, out, `"customer_id": "c1"`)

	out, err = c.run("bookings", "audit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, models.AuditBookingCreated)
	assert.Contains(t, out, "ops")

	_, err = c.run("bookings", "show", "404")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestBackup(t *testing.T) {
	c := newCLI(t)
	c.store()

	dir := t.TempDir()
	out, err := c.run("backup", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "backup written to "+dir)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestVersion(t *testing.T) {
	out, err := newCLI(t).run("version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "bookingctl dev"))
}
