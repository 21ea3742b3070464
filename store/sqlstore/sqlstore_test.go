package sqlstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewhub/payment-ledger/ledger"
)

var testNow = time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedStudent(t *testing.T, s *Store, id, code string) {
	t.Helper()
	require.NoError(t, s.SaveStudent(context.Background(), ledger.Student{
		ID: id, Code: code, FirstName: "Test", LastName: id, CreatedAt: testNow,
	}))
}

func testEnrollment(id, studentID string) ledger.Enrollment {
	return ledger.Enrollment{
		ID:            id,
		StudentID:     studentID,
		Program:       "cpa-review",
		Amount:        ledger.MustMoney("15000"),
		PaymentStatus: ledger.EnrollmentUnpaid,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("mysql", "root@/ledger")
	assert.Error(t, err)
}

func TestSaveStudent_DuplicateCode(t *testing.T) {
	s := newTestStore(t)
	seedStudent(t, s, "stu-1", "RC-001")

	err := s.SaveStudent(context.Background(), ledger.Student{ID: "stu-2", Code: "RC-001", FirstName: "A", LastName: "B", CreatedAt: testNow})
	assert.True(t, errors.Is(err, ErrDuplicateStudentCode), "got %v", err)

	students, err := s.ListStudents(context.Background())
	require.NoError(t, err)
	require.Len(t, students, 1)
	assert.Equal(t, "RC-001", students[0].Code)
	assert.True(t, students[0].CreatedAt.Equal(testNow))
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedStudent(t, s, "stu-1", "RC-001")

	// GIVEN: A transaction that inserts an enrollment then fails
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertEnrollment(ctx, testEnrollment("enr-rolled-back", "stu-1")); err != nil {
			return err
		}
		return boom
	})

	// THEN: The error surfaces and nothing was written
	assert.ErrorIs(t, err, boom)
	e, err := s.GetEnrollment(ctx, "enr-rolled-back")
	require.NoError(t, err)
	assert.Nil(t, e)

	// WHEN: The same insert commits
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertEnrollment(ctx, testEnrollment("enr-1", "stu-1"))
	}))

	// THEN: It is visible, money round-trips through cents
	e, err = s.GetEnrollment(ctx, "enr-1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "15000.00", e.Amount.String())
	assert.Equal(t, "0.00", e.TotalPaid.String())
	assert.Equal(t, ledger.EnrollmentUnpaid, e.PaymentStatus)
}

func TestUpdateEnrollmentTotals_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateEnrollmentTotals(context.Background(), testEnrollment("ghost", "stu-1"))
	assert.ErrorIs(t, err, ledger.ErrEnrollmentNotFound)
}

func TestAuditRuns_UpsertAndOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	older := AuditRun{ID: "run-1", Trigger: "schedule", Status: RunRunning, Repair: true, StartedAt: testNow}
	require.NoError(t, s.SaveAuditRun(ctx, older))

	finished := testNow.Add(2 * time.Second)
	older.Status = RunCompleted
	older.Checked = 12
	older.Drifts = 1
	older.Repaired = 1
	older.FinishedAt = &finished
	require.NoError(t, s.SaveAuditRun(ctx, older))

	newer := AuditRun{ID: "run-2", Trigger: "manual", Status: RunFailed, Error: "database is locked", StartedAt: testNow.Add(time.Minute)}
	require.NoError(t, s.SaveAuditRun(ctx, newer))

	runs, err := s.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "database is locked", runs[0].Error)
	assert.Nil(t, runs[0].FinishedAt)

	assert.Equal(t, "run-1", runs[1].ID)
	assert.Equal(t, RunCompleted, runs[1].Status)
	assert.True(t, runs[1].Repair)
	assert.Equal(t, 12, runs[1].Checked)
	require.NotNil(t, runs[1].FinishedAt)
	assert.True(t, runs[1].FinishedAt.Equal(finished))

	limited, err := s.ListAuditRuns(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedStudent(t, s, "stu-1", "RC-001")
	require.NoError(t, s.InsertEnrollment(ctx, testEnrollment("enr-1", "stu-1")))
	require.NoError(t, s.SaveAuditRun(ctx, AuditRun{ID: "run-1", Trigger: "manual", Status: RunCompleted, StartedAt: testNow}))

	require.NoError(t, s.Reset(ctx))

	students, err := s.ListStudents(ctx)
	require.NoError(t, err)
	assert.Empty(t, students)
	ids, err := s.ListEnrollmentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	runs, err := s.ListAuditRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, DriverSQLite, s.Driver())
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"maria", "maria"},
		{"50%", `50\%`},
		{"rc_001", `rc\_001`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeLike(tt.in), tt.in)
	}
}

func TestFormatTime_SortsChronologically(t *testing.T) {
	times := []time.Time{
		testNow.Add(time.Hour),
		testNow,
		testNow.Add(500 * time.Millisecond),
		testNow.Add(-24 * time.Hour),
		time.Date(2026, time.March, 15, 18, 0, 0, 0, time.FixedZone("PHT", 8*3600)),
	}
	formatted := make([]string, len(times))
	for i, ts := range times {
		formatted[i] = formatTime(ts)
		assert.True(t, parseTime(formatted[i]).Equal(ts), "round trip of %s", ts)
	}

	sort.Strings(formatted)
	for i := 1; i < len(formatted); i++ {
		assert.False(t, parseTime(formatted[i]).Before(parseTime(formatted[i-1])))
	}
}
