/*
scenarios_test.go - Tests for demo scenarios

Loads each scenario through the API and checks the balances it leaves
behind, so the demo data stays consistent with the ledger rules.
*/
package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadScenario(t *testing.T, env *testEnv, id string) {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenarioId": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func enrollmentsOf(t *testing.T, env *testEnv, studentID string) []EnrollmentDTO {
	t.Helper()
	rec := env.do(t, http.MethodGet, "/api/students/"+studentID+"/enrollments", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[[]EnrollmentDTO](t, rec)
}

func TestScenario_SingleStudent(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "single-student")

	enrollments := enrollmentsOf(t, env, "stu-maria")
	require.Len(t, enrollments, 1)
	assertMoney(t, "12500", enrollments[0].TotalPaid)
	assertMoney(t, "2500", enrollments[0].RemainingBalance)
	assert.Equal(t, "partially_paid", enrollments[0].PaymentStatus)

	current := decode[ScenarioDTO](t, env.do(t, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "single-student", current.ID)
}

func TestScenario_BusyTerm(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "busy-term")

	list := decode[ListPaymentsResponse](t, env.do(t, http.MethodGet, "/api/payments", nil))
	assert.Equal(t, 9, list.Pagination.Total)
	require.NotNil(t, list.Analytics)
	assert.Equal(t, 5, list.Analytics.EnrollmentCount)
	assertMoney(t, "47500", list.Analytics.Revenue.AllTime)
	assert.Len(t, list.Analytics.ByProgram, 3)

	assert.Equal(t, "paid", enrollmentsOf(t, env, "stu-maria")[0].PaymentStatus)
	assert.Equal(t, "paid", enrollmentsOf(t, env, "stu-lea")[0].PaymentStatus)
	assertMoney(t, "8000", enrollmentsOf(t, env, "stu-paolo")[0].RemainingBalance)
}

func TestScenario_RefundsSettlement(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "refunds-settlement")

	carlo := enrollmentsOf(t, env, "stu-carlo")
	require.Len(t, carlo, 1)
	assertMoney(t, "6500", carlo[0].TotalPaid)

	bea := enrollmentsOf(t, env, "stu-bea")
	require.Len(t, bea, 1)
	assertMoney(t, "3000", bea[0].TotalPaid)

	for status, want := range map[string]int{"refunded": 1, "partially_refunded": 1, "pending": 1, "failed": 1, "completed": 1} {
		rec := env.do(t, http.MethodGet, "/api/payments?analytics=false&status="+status, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, want, decode[ListPaymentsResponse](t, rec).Pagination.Total, status)
	}
}

func TestScenario_BalanceDriftRepairedByAudit(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "balance-drift")

	assertMoney(t, "10000", enrollmentsOf(t, env, "stu-maria")[0].TotalPaid)

	rec := env.do(t, http.MethodPost, "/api/audit/run", map[string]any{"repair": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[AuditRunDTO](t, rec)
	assert.Equal(t, 5, run.Checked)
	assert.Equal(t, 2, run.Drifts)
	assert.Equal(t, 2, run.Repaired)

	assertMoney(t, "15000", enrollmentsOf(t, env, "stu-maria")[0].TotalPaid)
	assertMoney(t, "4000", enrollmentsOf(t, env, "stu-paolo")[0].TotalPaid)
}

func TestScenario_ResetAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	loadScenario(t, env, "busy-term")

	unknown := env.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenarioId": "nope"})
	assert.Equal(t, http.StatusNotFound, unknown.Code)

	rec := env.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[ListPaymentsResponse](t, env.do(t, http.MethodGet, "/api/payments?analytics=false", nil))
	assert.Equal(t, 0, list.Pagination.Total)
	assert.Equal(t, "null", env.do(t, http.MethodGet, "/api/scenarios/current", nil).Body.String()[:4])
}

func TestScenario_AllScenariosLoadWithoutError(t *testing.T) {
	env := newTestEnv(t)
	for _, s := range scenarios {
		t.Run(s.ID, func(t *testing.T) {
			loadScenario(t, env, s.ID)
		})
	}
	assert.Len(t, decode[[]ScenarioDTO](t, env.do(t, http.MethodGet, "/api/scenarios", nil)), len(scenarioLoaders))
}

func TestScenario_RoutesDisabled(t *testing.T) {
	// GIVEN: A router built with scenarios disabled
	env := newTestEnv(t)
	env.h.ScenariosEnabled = false
	env.router = NewRouter(env.h, nil)

	// THEN: The scenario routes are not mounted
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/scenarios", nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/scenarios/reset", nil).Code)
}
