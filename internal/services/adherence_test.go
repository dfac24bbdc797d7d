package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"medication-adherence-server/internal/apperrors"
	"medication-adherence-server/internal/models"
)

// newReminder creates a reminder on date with one dose per medication.
func newReminder(t *testing.T, svc *Services, userID, date string, medIDs ...uint) *ReminderView {
	t.Helper()
	entries := make([]ReminderEntryInput, len(medIDs))
	for i, id := range medIDs {
		entries[i] = ReminderEntryInput{MedicationID: id, ScheduleTime: ptr("08:00")}
	}
	res, err := svc.Reminders.CreateReminder(context.Background(), userID, CreateReminderInput{Date: date, Medications: entries})
	require.NoError(t, err)
	return res.Reminder
}

func TestSetStatus_TakenCompletesReminder(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	med := mustCreateMedication(t, svc, alice, "Aspirin")
	reminder := newReminder(t, svc, alice, "2025-06-13", med.ID)
	dose := reminder.Medications[0]

	res, err := svc.Adherence.SetStatus(ctx, reminder.ID, dose.ID, alice, models.DoseStatusTaken, ptr("with water"))
	require.NoError(t, err)
	assert.Equal(t, models.DoseStatusTaken, res.ReminderMedication.Status)
	require.NotNil(t, res.ReminderMedication.TakenAt)
	assert.True(t, res.Completed)
	assert.Equal(t, models.ReminderStatusCompleted, res.ReminderStatus)
	require.NotNil(t, res.RemainingQuantity)
	assert.Zero(t, *res.RemainingQuantity)

	view, err := svc.Reminders.GetReminder(ctx, reminder.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.ReminderStatusCompleted, view.Status)
	assert.Equal(t, models.DoseStatusTaken, view.Medications[0].Status)

	history, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{MedicationID: med.ID, From: "2025-06-13", To: "2025-06-13"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, dose.ID, history[0].ReminderMedicationID)
	assert.Equal(t, "2025-06-13", history[0].Date)
	assert.Equal(t, "08:00:00", *history[0].ScheduledTime)
	assert.Equal(t, models.DoseStatusTaken, history[0].Status)
	assert.Equal(t, "with water", history[0].Notes)
}

func TestSetStatus_InventoryClampsAtZero(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	detail, err := svc.Medications.SaveMedicationBundle(ctx, alice, nil, MedicationBundle{
		Attrs:     MedicationAttrs{Name: ptr("Aspirin")},
		Inventory: &InventoryInput{RemainingQuantity: ptr(0)},
	})
	require.NoError(t, err)
	reminder := newReminder(t, svc, alice, "2025-06-13", detail.ID)

	res, err := svc.Adherence.SetStatus(ctx, reminder.ID, reminder.Medications[0].ID, alice, models.DoseStatusTaken, nil)
	require.NoError(t, err)
	require.NotNil(t, res.RemainingQuantity)
	assert.Equal(t, 0, *res.RemainingQuantity)
	assert.True(t, res.LowStock)

	got, err := svc.Medications.GetMedication(ctx, detail.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Inventory.RemainingQuantity)
}

func TestSetStatus_CompletionTracksEveryDose(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	a := mustCreateMedication(t, svc, alice, "Aspirin")
	b := mustCreateMedication(t, svc, alice, "Metformin")
	c := mustCreateMedication(t, svc, alice, "Vitamin D")
	reminder := newReminder(t, svc, alice, "2025-06-13", a.ID, b.ID, c.ID)

	steps := []struct {
		dose      int
		status    models.DoseStatus
		completed bool
	}{
		{0, models.DoseStatusTaken, false},
		{1, models.DoseStatusSkipped, false},
		{2, models.DoseStatusMissed, true},
		{1, models.DoseStatusPending, false},
		{1, models.DoseStatusTaken, true},
		{0, models.DoseStatusSkipped, true},
	}
	for _, step := range steps {
		doseID := reminder.Medications[step.dose].ID
		res, err := svc.Adherence.SetStatus(ctx, reminder.ID, doseID, alice, step.status, nil)
		require.NoError(t, err)
		assert.Equal(t, step.completed, res.Completed, "dose %d -> %s", step.dose, step.status)

		view, err := svc.Reminders.GetReminder(ctx, reminder.ID, alice)
		require.NoError(t, err)
		allTerminal := true
		for _, d := range view.Medications {
			allTerminal = allTerminal && d.Status.IsTerminal()
		}
		assert.Equal(t, allTerminal, view.Status == models.ReminderStatusCompleted)
		assert.Equal(t, step.completed, allTerminal)
	}
}

func TestSetStatus_PermissiveTransitions(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	med := mustCreateMedication(t, svc, alice, "Aspirin")
	_, err := svc.Medications.AdjustInventory(ctx, med.ID, 10)
	require.NoError(t, err)
	reminder := newReminder(t, svc, alice, "2025-06-13", med.ID)
	doseID := reminder.Medications[0].ID

	res, err := svc.Adherence.SetStatus(ctx, reminder.ID, doseID, alice, models.DoseStatusTaken, nil)
	require.NoError(t, err)
	assert.Equal(t, 9, *res.RemainingQuantity)

	historyLen := func(t *testing.T) int {
		t.Helper()
		history, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{})
		require.NoError(t, err)
		return len(history)
	}

	t.Run("repeating taken applies its effects again", func(t *testing.T) {
		later := time.Date(2025, 6, 13, 11, 0, 0, 0, time.UTC)
		svc.SetClock(func() time.Time { return later })

		res, err := svc.Adherence.SetStatus(ctx, reminder.ID, doseID, alice, models.DoseStatusTaken, nil)
		require.NoError(t, err)
		require.NotNil(t, res.RemainingQuantity)
		assert.Equal(t, 8, *res.RemainingQuantity)
		require.NotNil(t, res.ReminderMedication.TakenAt)
		assert.WithinDuration(t, later, *res.ReminderMedication.TakenAt, time.Second)
		assert.True(t, res.Completed)
		assert.Equal(t, 2, historyLen(t))
	})

	t.Run("leaving taken keeps history and inventory", func(t *testing.T) {
		res, err := svc.Adherence.SetStatus(ctx, reminder.ID, doseID, alice, models.DoseStatusPending, nil)
		require.NoError(t, err)
		assert.Equal(t, models.DoseStatusPending, res.ReminderMedication.Status)
		assert.Nil(t, res.ReminderMedication.TakenAt)
		assert.Nil(t, res.RemainingQuantity)
		assert.False(t, res.Completed)

		qty, err := svc.Medications.AdjustInventory(ctx, med.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 8, qty)
		assert.Equal(t, 2, historyLen(t))
	})

	t.Run("taking again appends another entry", func(t *testing.T) {
		res, err := svc.Adherence.SetStatus(ctx, reminder.ID, doseID, alice, models.DoseStatusTaken, nil)
		require.NoError(t, err)
		assert.Equal(t, 7, *res.RemainingQuantity)
		assert.Equal(t, 3, historyLen(t))
	})
}

func TestSetStatus_LocksParentReminder(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	med := mustCreateMedication(t, svc, alice, "Aspirin")
	reminder := newReminder(t, svc, alice, "2025-06-13", med.ID)

	var locked []string
	err := svc.Adherence.db.Callback().Query().Before("gorm:query").Register("test:record_locking", func(db *gorm.DB) {
		c, ok := db.Statement.Clauses["FOR"]
		if !ok {
			return
		}
		if l, ok := c.Expression.(clause.Locking); ok && l.Strength == "UPDATE" {
			locked = append(locked, db.Statement.Table)
		}
	})
	require.NoError(t, err)

	_, err = svc.Adherence.SetStatus(ctx, reminder.ID, reminder.Medications[0].ID, alice, models.DoseStatusSkipped, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"reminders"}, locked)
}

func TestSetStatus_ConcurrentSiblingDoses(t *testing.T) {
	svc := newConcurrentTestServices(t)
	ctx := context.Background()
	a := mustCreateMedication(t, svc, alice, "Aspirin")
	b := mustCreateMedication(t, svc, alice, "Metformin")
	c := mustCreateMedication(t, svc, alice, "Vitamin D")
	_, err := svc.Medications.AdjustInventory(ctx, a.ID, 5)
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		date := fmt.Sprintf("2025-06-%02d", 10+round)
		reminder := newReminder(t, svc, alice, date, a.ID, b.ID, c.ID)
		statuses := []models.DoseStatus{models.DoseStatusTaken, models.DoseStatusSkipped, models.DoseStatusMissed}

		g, gctx := errgroup.WithContext(ctx)
		for i, dose := range reminder.Medications {
			status := statuses[i]
			g.Go(func() error {
				_, err := svc.Adherence.SetStatus(gctx, reminder.ID, dose.ID, alice, status, nil)
				return err
			})
		}
		require.NoError(t, g.Wait())

		view, err := svc.Reminders.GetReminder(ctx, reminder.ID, alice)
		require.NoError(t, err)
		assert.Equal(t, models.ReminderStatusCompleted, view.Status, date)
	}

	history, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{})
	require.NoError(t, err)
	assert.Len(t, history, 5)
	qty, err := svc.Medications.AdjustInventory(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Zero(t, qty)
}

func TestSetStatus_Errors(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	med := mustCreateMedication(t, svc, alice, "Aspirin")
	reminder := newReminder(t, svc, alice, "2025-06-13", med.ID)
	other := newReminder(t, svc, alice, "2025-06-14", med.ID)
	doseID := reminder.Medications[0].ID

	t.Run("unknown status", func(t *testing.T) {
		_, err := svc.Adherence.SetStatus(ctx, reminder.ID, doseID, alice, "done", nil)
		var verr *apperrors.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "status", verr.Field)
	})

	t.Run("other user's reminder", func(t *testing.T) {
		_, err := svc.Adherence.SetStatus(ctx, reminder.ID, doseID, bob, models.DoseStatusTaken, nil)
		var authz *apperrors.AuthorizationError
		require.ErrorAs(t, err, &authz)
	})

	t.Run("missing reminder", func(t *testing.T) {
		_, err := svc.Adherence.SetStatus(ctx, 9999, doseID, alice, models.DoseStatusTaken, nil)
		var nf *apperrors.NotFoundError
		require.ErrorAs(t, err, &nf)
	})

	t.Run("dose of another reminder", func(t *testing.T) {
		_, err := svc.Adherence.SetStatus(ctx, other.ID, doseID, alice, models.DoseStatusTaken, nil)
		var nf *apperrors.NotFoundError
		require.ErrorAs(t, err, &nf)
	})

	history, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{})
	require.NoError(t, err)
	assert.Empty(t, history)

	view, err := svc.Reminders.GetReminder(ctx, reminder.ID, alice)
	require.NoError(t, err)
	assert.Equal(t, models.DoseStatusPending, view.Medications[0].Status)
}

func TestHistoryEntriesAreImmutable(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	med := mustCreateMedication(t, svc, alice, "Aspirin")
	reminder := newReminder(t, svc, alice, "2025-06-13", med.ID)
	_, err := svc.Adherence.SetStatus(ctx, reminder.ID, reminder.Medications[0].ID, alice, models.DoseStatusTaken, ptr("original"))
	require.NoError(t, err)

	history, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{})
	require.NoError(t, err)
	require.Len(t, history, 1)
	entry := history[0]

	db := svc.Adherence.db
	err = db.Model(&entry).Update("notes", "rewritten").Error
	require.ErrorIs(t, err, models.ErrHistoryImmutable)
	err = db.Delete(&entry).Error
	require.ErrorIs(t, err, models.ErrHistoryImmutable)

	for _, status := range []models.DoseStatus{models.DoseStatusSkipped, models.DoseStatusPending, models.DoseStatusMissed} {
		_, err := svc.Adherence.SetStatus(ctx, reminder.ID, reminder.Medications[0].ID, alice, status, nil)
		require.NoError(t, err)
	}
	require.NoError(t, svc.Reminders.DeleteReminder(ctx, reminder.ID, alice))

	after, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, entry.ID, after[0].ID)
	assert.Equal(t, "original", after[0].Notes)
	assert.Equal(t, models.DoseStatusTaken, after[0].Status)
}

func TestListHistory_Filters(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	a := mustCreateMedication(t, svc, alice, "Aspirin")
	b := mustCreateMedication(t, svc, alice, "Metformin")

	for _, date := range []string{"2025-06-11", "2025-06-12", "2025-06-13"} {
		r := newReminder(t, svc, alice, date, a.ID, b.ID)
		for _, dose := range r.Medications {
			_, err := svc.Adherence.SetStatus(ctx, r.ID, dose.ID, alice, models.DoseStatusTaken, nil)
			require.NoError(t, err)
		}
	}

	all, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, "2025-06-13", all[0].Date)
	assert.Equal(t, "2025-06-11", all[5].Date)

	onlyA, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{MedicationID: a.ID, From: "2025-06-12"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	window, err := svc.Adherence.ListHistory(ctx, alice, HistoryFilters{To: "2025-06-11"})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	none, err := svc.Adherence.ListHistory(ctx, bob, HistoryFilters{})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = svc.Adherence.ListHistory(ctx, alice, HistoryFilters{From: "2025-06-13", To: "2025-06-12"})
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAdherenceSummary(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	a := mustCreateMedication(t, svc, alice, "Aspirin")
	b := mustCreateMedication(t, svc, alice, "Metformin")

	day1 := newReminder(t, svc, alice, "2025-06-12", a.ID, b.ID)
	day2 := newReminder(t, svc, alice, "2025-06-13", a.ID, b.ID)
	newReminder(t, svc, alice, "2025-06-20", a.ID)
	newReminder(t, svc, bob, "2025-06-13", mustCreateMedication(t, svc, bob, "Other").ID)

	set := func(r *ReminderView, i int, status models.DoseStatus) {
		_, err := svc.Adherence.SetStatus(ctx, r.ID, r.Medications[i].ID, alice, status, nil)
		require.NoError(t, err)
	}
	set(day1, 0, models.DoseStatusTaken)
	set(day1, 1, models.DoseStatusMissed)
	set(day2, 0, models.DoseStatusTaken)
	set(day2, 1, models.DoseStatusSkipped)

	summary, err := svc.Adherence.AdherenceSummary(ctx, alice, "2025-06-12", "2025-06-13")
	require.NoError(t, err)
	assert.Equal(t, StatusCounts{Taken: 2, Skipped: 1, Missed: 1}, summary.Counts)
	assert.InDelta(t, 0.5, summary.AdherenceRate, 1e-9)

	require.Len(t, summary.Medications, 2)
	assert.Equal(t, a.ID, summary.Medications[0].MedicationID)
	assert.Equal(t, "Aspirin", summary.Medications[0].Name)
	assert.InDelta(t, 1.0, summary.Medications[0].AdherenceRate, 1e-9)
	assert.InDelta(t, 0.0, summary.Medications[1].AdherenceRate, 1e-9)

	single, err := svc.Adherence.AdherenceSummary(ctx, alice, "2025-06-20", "")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-20", single.To)
	assert.Equal(t, StatusCounts{Pending: 1}, single.Counts)
	assert.Zero(t, single.AdherenceRate)

	_, err = svc.Adherence.AdherenceSummary(ctx, alice, "", "")
	var verr *apperrors.ValidationError
	require.ErrorAs(t, err, &verr)
}
