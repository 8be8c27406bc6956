package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/subscription"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) ChangePlan(ctx context.Context, userID, desiredPlanID string) (*subscription.ChangeResult, error) {
	args := m.Called(ctx, userID, desiredPlanID)
	res, _ := args.Get(0).(*subscription.ChangeResult)
	return res, args.Error(1)
}

func (m *mockService) GetState(ctx context.Context, userID string) (*subscription.State, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*subscription.State)
	return res, args.Error(1)
}

func (m *mockService) Manage(ctx context.Context, userID string, action subscription.Action) (*subscription.ActionResult, error) {
	args := m.Called(ctx, userID, action)
	res, _ := args.Get(0).(*subscription.ActionResult)
	return res, args.Error(1)
}

func (m *mockService) ClearScheduledChange(ctx context.Context, userID string) (*subscription.ClearResult, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*subscription.ClearResult)
	return res, args.Error(1)
}

func (m *mockService) CheckAccess(ctx context.Context, userID string) (*subscription.AccessDecision, error) {
	args := m.Called(ctx, userID)
	res, _ := args.Get(0).(*subscription.AccessDecision)
	return res, args.Error(1)
}

func newSubscriptionRouter(svc SubscriptionService) http.Handler {
	r := chi.NewRouter()
	NewSubscriptionHandler(svc, logger.NewNop()).RegisterRoutes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestChangePlanUpgrade(t *testing.T) {
	svc := new(mockService)
	svc.On("ChangePlan", mock.Anything, "user-1", "price_plus").Return(&subscription.ChangeResult{
		ChangeType:  subscription.ChangeUpgrade,
		Message:     "Upgraded to Plus!",
		CurrentPlan: "Starter",
		NewPlan:     "Plus",
	}, nil)

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/change-plan",
		`{"uid":"user-1","newPriceId":"price_plus"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "upgrade", body["changeType"])
	assert.Equal(t, "Plus", body["newPlan"])
	assert.NotContains(t, body, "effectiveDate")
	svc.AssertExpectations(t)
}

func TestChangePlanDowngradeIncludesEffectiveDate(t *testing.T) {
	effective := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	svc := new(mockService)
	svc.On("ChangePlan", mock.Anything, "user-1", "price_starter").Return(&subscription.ChangeResult{
		ChangeType:    subscription.ChangeDowngrade,
		Message:       "Scheduled downgrade to Starter!",
		CurrentPlan:   "Plus",
		NewPlan:       "Starter",
		EffectiveDate: &effective,
		ScheduleID:    "sub_sched_1",
	}, nil)

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/change-plan",
		`{"uid":"user-1","newPriceId":"price_starter"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "downgrade", body["changeType"])
	assert.Equal(t, "2025-04-01T00:00:00Z", body["effectiveDate"])
	assert.Equal(t, "sub_sched_1", body["scheduleId"])
}

func TestChangePlanMissingFields(t *testing.T) {
	for _, payload := range []string{`{}`, `{"uid":"user-1"}`, `{"newPriceId":"price_plus"}`, `not json`} {
		t.Run(payload, func(t *testing.T) {
			svc := new(mockService)
			rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/change-plan", payload)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Missing uid or newPriceId", body["error"])
			svc.AssertNotCalled(t, "ChangePlan", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestChangePlanOversizedBody(t *testing.T) {
	svc := new(mockService)
	payload := `{"uid":"user-1","newPriceId":"price_plus","pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/change-plan", payload)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Request body too large", body["error"])
	svc.AssertNotCalled(t, "ChangePlan", mock.Anything, mock.Anything, mock.Anything)
}

func TestChangePlanBodyAtLimitIsRead(t *testing.T) {
	svc := new(mockService)
	svc.On("ChangePlan", mock.Anything, "user-1", "price_plus").Return(&subscription.ChangeResult{
		ChangeType: subscription.ChangeUpgrade, Message: "Upgraded to Plus!", NewPlan: "Plus",
	}, nil)
	head := `{"uid":"user-1","newPriceId":"price_plus","pad":"`
	payload := head + strings.Repeat("x", maxBodyBytes-len(head)-2) + `"}`
	require.Len(t, payload, maxBodyBytes)

	rec, _ := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/change-plan", payload)

	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestChangePlanErrorMapping(t *testing.T) {
	configErr := ierr.NewError("unknown price").
		WithHint("Invalid plan configuration").
		WithReportableDetails(map[string]any{"failedLookup": "newPriceId", "newPriceId": "price_bogus"}).
		Mark(ierr.ErrConfiguration)

	tests := []struct {
		name      string
		err       error
		status    int
		message   string
		wantDebug bool
	}{
		{"not found", ierr.NewError("no user").WithHint("User not found").Mark(ierr.ErrNotFound), http.StatusNotFound, "User not found", false},
		{"invalid operation", ierr.NewError("same").WithHint("You are already on this plan").Mark(ierr.ErrInvalidOperation), http.StatusBadRequest, "You are already on this plan", false},
		{"configuration", configErr, http.StatusBadRequest, "Invalid plan configuration", true},
		{"conflict", ierr.NewError("stale").WithHint("Subscription was modified concurrently, please retry").Mark(ierr.ErrVersionConflict), http.StatusConflict, "Subscription was modified concurrently, please retry", false},
		{"provider", ierr.NewError("boom").Mark(ierr.ErrHTTPClient), http.StatusInternalServerError, "Internal Server Error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockService)
			svc.On("ChangePlan", mock.Anything, "user-1", "price_bogus").Return(nil, tt.err)

			rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/change-plan",
				`{"uid":"user-1","newPriceId":"price_bogus"}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, body["error"])
			if tt.wantDebug {
				debug, ok := body["debug"].(map[string]any)
				require.True(t, ok, "debug block missing")
				assert.Equal(t, "newPriceId", debug["failedLookup"])
			} else {
				assert.NotContains(t, body, "debug")
			}
		})
	}
}

func TestGetSubscription(t *testing.T) {
	svc := new(mockService)
	svc.On("GetState", mock.Anything, "user-1").Return(&subscription.State{
		HasSubscription: true,
		Subscription:    &subscription.SubscriptionState{ID: "sub_123", Status: "active"},
		Plan:            &subscription.PlanState{Name: "Plus", Amount: 9.99, Currency: "usd", Interval: "month"},
	}, nil)

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodGet, "/api/manage-subscription?uid=user-1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["hasSubscription"])
	plan := body["plan"].(map[string]any)
	assert.Equal(t, "Plus", plan["name"])
	assert.InDelta(t, 9.99, plan["amount"], 0.0001)
}

func TestGetSubscriptionUserMissing(t *testing.T) {
	svc := new(mockService)
	svc.On("GetState", mock.Anything, "").Return(nil,
		ierr.NewError("missing uid").WithHint("Missing uid").Mark(ierr.ErrValidation))

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodGet, "/api/manage-subscription", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing uid", body["error"])
}

func TestManageSubscriptionCancel(t *testing.T) {
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	svc := new(mockService)
	svc.On("Manage", mock.Anything, "user-1", subscription.ActionCancel).Return(&subscription.ActionResult{
		Message: "Subscription will be canceled at the end of the current billing period",
		Subscription: subscription.ActionSubscription{
			ID:                "sub_123",
			CancelAtPeriodEnd: true,
			CurrentPeriodEnd:  &end,
		},
	}, nil)

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/manage-subscription",
		`{"uid":"user-1","action":"cancel"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	sub := body["subscription"].(map[string]any)
	assert.Equal(t, "sub_123", sub["id"])
	assert.Equal(t, true, sub["cancel_at_period_end"])
	assert.Equal(t, float64(end.Unix()), sub["current_period_end"])
}

func TestManageSubscriptionInvalidAction(t *testing.T) {
	svc := new(mockService)
	svc.On("Manage", mock.Anything, "user-1", subscription.Action("pause")).Return(nil,
		ierr.NewError("bad action").WithHint("Invalid action").Mark(ierr.ErrValidation))

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/manage-subscription",
		`{"uid":"user-1","action":"pause"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid action", body["error"])
}

func TestManageSubscriptionMissingFields(t *testing.T) {
	svc := new(mockService)
	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/manage-subscription", `{"uid":"user-1"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Missing uid or action", body["error"])
	svc.AssertNotCalled(t, "Manage", mock.Anything, mock.Anything, mock.Anything)
}

func TestClearScheduledChange(t *testing.T) {
	cleared := &models.ScheduledPlanChange{NewPlan: "Starter", NewPriceID: "price_starter"}
	svc := new(mockService)
	svc.On("ClearScheduledChange", mock.Anything, "user-1").Return(&subscription.ClearResult{
		Message:            "Scheduled plan change cleared successfully",
		HadScheduledChange: true,
		ClearedChange:      cleared,
	}, nil)

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/clear-scheduled-change", `{"uid":"user-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["hadScheduledChange"])
	assert.Contains(t, body, "clearedChange")
}

func TestClearScheduledChangeNothingPending(t *testing.T) {
	svc := new(mockService)
	svc.On("ClearScheduledChange", mock.Anything, "user-1").Return(&subscription.ClearResult{
		Message: "No scheduled changes to clear",
	}, nil)

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodPost, "/api/clear-scheduled-change", `{"uid":"user-1"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["hadScheduledChange"])
	assert.NotContains(t, body, "clearedChange")
}

func TestCheckAccess(t *testing.T) {
	svc := new(mockService)
	svc.On("CheckAccess", mock.Anything, "user-1").Return(&subscription.AccessDecision{
		Allowed:  false,
		Redirect: subscription.RedirectSubscribe,
	}, nil)

	rec, body := do(t, newSubscriptionRouter(svc), http.MethodGet, "/api/access?uid=user-1", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["allowed"])
	assert.Equal(t, "/subscribe", body["redirect"])
}
