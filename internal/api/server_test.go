package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claimflow/internal/claimstore/memory"
	"github.com/claimflow/internal/clock"
	"github.com/claimflow/internal/money"
	"github.com/claimflow/internal/workflow"
	"github.com/claimflow/pkg/models"
)

type testAPI struct {
	t      *testing.T
	server *Server
	clock  *clock.Virtual
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	vc := clock.NewVirtual(time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC))
	engine, err := workflow.NewEngine(memory.New(), vc, money.FlatRate(decimal.RequireFromString("0.20")))
	require.NoError(t, err)
	return &testAPI{t: t, server: NewServer(0, engine, vc, opts), clock: vc}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

const fileBody = `{"bookingId":"bk-1","hostId":"host-1","guestId":"guest-1","claimType":"collision",
	"estimatedCost":150000,"deductibleAmount":50000,"depositHeld":25000}`

// awaitingClaim drives a claim to AWAITING_GUEST_RESPONSE through the API.
func (a *testAPI) awaitingClaim() string {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/v1/claims", fileBody)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[models.CommandResponse](a.t, rec).Claim.ID

	rec = a.do(http.MethodPost, "/api/v1/claims/"+id+"/review", `{"reviewerId":"fleet-3"}`)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(http.MethodPost, "/api/v1/claims/"+id+"/fleet-decision", `{"approve":true,"approvedAmount":120000}`)
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t, Options{})
	rec := a.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t, Options{})
	id := a.awaitingClaim()

	rec := a.do(http.MethodGet, "/api/v1/claims/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[models.ClaimView](t, rec)
	assert.Equal(t, "AWAITING_GUEST_RESPONSE", view.State)
	assert.Equal(t, int64(50000), view.PotentialCharge)
	require.NotNil(t, view.HoursRemaining)
	assert.Equal(t, 48, *view.HoursRemaining)

	a.clock.Advance(10 * time.Hour)
	rec = a.do(http.MethodPost, "/api/v1/claims/"+id+"/guest-response", `{"responseText":"it was already scratched","evidenceCount":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "UNDER_FINAL_REVIEW", decode[models.CommandResponse](t, rec).Claim.State)

	rec = a.do(http.MethodPost, "/api/v1/claims/"+id+"/final-decision", `{"approve":true,"guestResponsibility":50000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[models.CommandResponse](t, rec)
	assert.Equal(t, "APPROVED_PAID", resp.Claim.State)
	assert.Equal(t, int64(96000), *resp.Claim.HostPayout)
	assert.True(t, resp.Claim.Terminal)
	assert.Equal(t, 3, resp.Intents)

	rec = a.do(http.MethodGet, "/api/v1/claims/"+id+"/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]models.EventView](t, rec)
	require.NotEmpty(t, events)
	assert.Equal(t, "claim_filed", events[0].Cause)
	assert.Equal(t, "APPROVED_PAID", events[len(events)-1].ToState)
}

func TestErrorMapping(t *testing.T) {
	a := newTestAPI(t, Options{})

	rec := a.do(http.MethodGet, "/api/v1/claims/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[models.ErrorResponse](t, rec).Code)

	rec = a.do(http.MethodPost, "/api/v1/claims", `{"bookingId":"b","hostId":"h","guestId":"g","claimType":"collision","estimatedCost":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[models.ErrorResponse](t, rec).Code)

	rec = a.do(http.MethodPost, "/api/v1/claims", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	id := a.awaitingClaim()
	rec = a.do(http.MethodPost, "/api/v1/claims/"+id+"/fleet-decision", `{"approve":false}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[models.ErrorResponse](t, rec).Code)

	a.clock.Advance(48 * time.Hour)
	rec = a.do(http.MethodPost, "/api/v1/claims/"+id+"/guest-response", `{"responseText":"late"}`)
	assert.Equal(t, http.StatusGone, rec.Code)
	errResp := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "deadline_passed", errResp.Code)
	assert.Equal(t, "response window closed", errResp.Error)
}

func TestGuestResponseRateLimited(t *testing.T) {
	a := newTestAPI(t, Options{GuestRatePerSecond: 0.001, GuestBurst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := a.do(http.MethodPost, "/api/v1/claims/unknown/guest-response", `{"responseText":"hi"}`)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNotFound, http.StatusNotFound, http.StatusTooManyRequests}, codes)

	// Other claims have their own budget.
	rec := a.do(http.MethodPost, "/api/v1/claims/other/guest-response", `{"responseText":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
