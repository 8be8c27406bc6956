package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	ierr "github.com/florian-lahitte-uvi/Test-stripe/internal/errors"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v82"
)

type apiResponse struct {
	status int
	body   string
}

type apiCall struct {
	route string
	form  url.Values
}

// fakeAPI answers Stripe requests from a route table keyed by "METHOD /path" and
// records every request in order.
type fakeAPI struct {
	mu     sync.Mutex
	routes map[string]apiResponse
	calls  []apiCall
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	route := r.Method + " " + r.URL.Path

	f.mu.Lock()
	f.calls = append(f.calls, apiCall{route: route, form: r.Form})
	resp, ok := f.routes[route]
	f.mu.Unlock()

	if !ok {
		resp = apiResponse{status: http.StatusNotFound, body: stripeError("invalid_request_error", "No such route: "+route)}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func (f *fakeAPI) routesCalled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.route)
	}
	return out
}

func (f *fakeAPI) formFor(t *testing.T, route string) url.Values {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c.route == route {
			return c.form
		}
	}
	t.Fatalf("no request to %s", route)
	return nil
}

func newAPIClient(t *testing.T, routes map[string]apiResponse) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{routes: routes}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c := newTestClient(DefaultBreakerConfig())
	c.api = stripeapi.NewClient("sk_test_123", stripeapi.WithBackends(stripeapi.NewBackendsWithConfig(&stripeapi.BackendConfig{
		URL:               stripeapi.String(srv.URL),
		HTTPClient:        srv.Client(),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
		MaxNetworkRetries: stripeapi.Int64(0),
	})))
	return c, api
}

func okResponse(body string) apiResponse { return apiResponse{status: http.StatusOK, body: body} }

func stripeError(kind, message string) string {
	return fmt.Sprintf(`{"error":{"type":%q,"message":%q}}`, kind, message)
}

func subscriptionJSON(scheduleID string, cancelAtPeriodEnd bool) string {
	schedule := "null"
	if scheduleID != "" {
		schedule = strconv.Quote(scheduleID)
	}
	return fmt.Sprintf(`{
  "id": "sub_1",
  "object": "subscription",
  "customer": "cus_1",
  "status": "active",
  "cancel_at_period_end": %t,
  "created": 1735689600,
  "schedule": %s,
  "items": {
    "object": "list",
    "data": [{
      "id": "si_1",
      "object": "subscription_item",
      "current_period_start": 1740787200,
      "current_period_end": 1743465600,
      "price": {
        "id": "price_family_pro",
        "object": "price",
        "unit_amount": 1499,
        "currency": "usd",
        "recurring": {"interval": "month"},
        "product": "prod_family_pro"
      }
    }]
  }
}`, cancelAtPeriodEnd, schedule)
}

func scheduleJSON(id string) string {
	return fmt.Sprintf(`{
  "id": %q,
  "object": "subscription_schedule",
  "subscription": "sub_1",
  "end_behavior": "release",
  "current_phase": {"start_date": 1740787200, "end_date": 1743465600},
  "phases": [{"start_date": 1740787200, "end_date": 1743465600}]
}`, id)
}

func TestChangePriceReleasesAttachedScheduleFirst(t *testing.T) {
	c, api := newAPIClient(t, map[string]apiResponse{
		"GET /v1/subscriptions/sub_1":                         okResponse(subscriptionJSON("sub_sched_1", false)),
		"POST /v1/subscription_schedules/sub_sched_1/release": okResponse(scheduleJSON("sub_sched_1")),
		"POST /v1/subscriptions/sub_1":                        okResponse(subscriptionJSON("", false)),
	})

	sub, err := c.ChangePrice(context.Background(), "sub_1", "si_1", "price_starter", true)
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)

	assert.Equal(t, []string{
		"GET /v1/subscriptions/sub_1",
		"POST /v1/subscription_schedules/sub_sched_1/release",
		"POST /v1/subscriptions/sub_1",
	}, api.routesCalled())

	form := api.formFor(t, "POST /v1/subscriptions/sub_1")
	assert.Equal(t, "si_1", form.Get("items[0][id]"))
	assert.Equal(t, "price_starter", form.Get("items[0][price]"))
	assert.Equal(t, "create_prorations", form.Get("proration_behavior"))
	assert.Equal(t, "false", form.Get("cancel_at_period_end"))
	assert.Equal(t, expandProduct, form.Get("expand[0]"))
}

func TestChangePriceWithoutProration(t *testing.T) {
	c, api := newAPIClient(t, map[string]apiResponse{
		"GET /v1/subscriptions/sub_1":  okResponse(subscriptionJSON("", false)),
		"POST /v1/subscriptions/sub_1": okResponse(subscriptionJSON("", false)),
	})

	_, err := c.ChangePrice(context.Background(), "sub_1", "si_1", "price_starter", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"GET /v1/subscriptions/sub_1", "POST /v1/subscriptions/sub_1"}, api.routesCalled())
	assert.Equal(t, "none", api.formFor(t, "POST /v1/subscriptions/sub_1").Get("proration_behavior"))
}

func TestSetCancelAtPeriodEnd(t *testing.T) {
	c, api := newAPIClient(t, map[string]apiResponse{
		"GET /v1/subscriptions/sub_1":                         okResponse(subscriptionJSON("sub_sched_2", false)),
		"POST /v1/subscription_schedules/sub_sched_2/release": okResponse(scheduleJSON("sub_sched_2")),
		"POST /v1/subscriptions/sub_1":                        okResponse(subscriptionJSON("", true)),
	})

	sub, err := c.SetCancelAtPeriodEnd(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	assert.Equal(t, []string{
		"GET /v1/subscriptions/sub_1",
		"POST /v1/subscription_schedules/sub_sched_2/release",
		"POST /v1/subscriptions/sub_1",
	}, api.routesCalled())

	form := api.formFor(t, "POST /v1/subscriptions/sub_1")
	assert.Equal(t, "true", form.Get("cancel_at_period_end"))
	assert.Empty(t, form.Get("items[0][price]"))
}

func TestSetCancelAtPeriodEndLookupFailure(t *testing.T) {
	c, api := newAPIClient(t, map[string]apiResponse{
		"GET /v1/subscriptions/sub_1": {status: http.StatusNotFound, body: stripeError("invalid_request_error", "No such subscription")},
	})

	_, err := c.SetCancelAtPeriodEnd(context.Background(), "sub_1", false)
	require.Error(t, err)
	assert.True(t, ierr.Is(err, ierr.ErrNotFound))
	assert.Equal(t, []string{"GET /v1/subscriptions/sub_1"}, api.routesCalled())
}

func TestCreateDowngradeScheduleFromSubscription(t *testing.T) {
	c, api := newAPIClient(t, map[string]apiResponse{
		"GET /v1/subscriptions/sub_1":                 okResponse(subscriptionJSON("", false)),
		"POST /v1/subscription_schedules":             okResponse(scheduleJSON("sub_sched_9")),
		"POST /v1/subscription_schedules/sub_sched_9": okResponse(scheduleJSON("sub_sched_9")),
	})
	effective := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	id, err := c.CreateDowngradeSchedule(context.Background(), models.ScheduleRequest{
		SubscriptionID: "sub_1",
		CurrentPriceID: "price_family_pro",
		NewPriceID:     "price_starter",
		EffectiveDate:  effective,
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_sched_9", id)

	assert.Equal(t, []string{
		"GET /v1/subscriptions/sub_1",
		"POST /v1/subscription_schedules",
		"POST /v1/subscription_schedules/sub_sched_9",
	}, api.routesCalled())

	create := api.formFor(t, "POST /v1/subscription_schedules")
	assert.Equal(t, "sub_1", create.Get("from_subscription"))
	assert.Empty(t, create.Get("phases[0][items][0][price]"))

	update := api.formFor(t, "POST /v1/subscription_schedules/sub_sched_9")
	assert.Equal(t, "release", update.Get("end_behavior"))
	assert.Equal(t, "price_family_pro", update.Get("phases[0][items][0][price]"))
	assert.Equal(t, "1", update.Get("phases[0][items][0][quantity]"))
	assert.Equal(t, "1740787200", update.Get("phases[0][start_date]"))
	assert.Equal(t, strconv.FormatInt(effective.Unix(), 10), update.Get("phases[0][end_date]"))
	assert.Equal(t, "price_starter", update.Get("phases[1][items][0][price]"))
	assert.Empty(t, update.Get("phases[1][end_date]"))
}

func TestCreateDowngradeScheduleReusesAttachedSchedule(t *testing.T) {
	c, api := newAPIClient(t, map[string]apiResponse{
		"GET /v1/subscriptions/sub_1":                 okResponse(subscriptionJSON("sub_sched_4", false)),
		"GET /v1/subscription_schedules/sub_sched_4":  okResponse(scheduleJSON("sub_sched_4")),
		"POST /v1/subscription_schedules/sub_sched_4": okResponse(scheduleJSON("sub_sched_4")),
	})

	id, err := c.CreateDowngradeSchedule(context.Background(), models.ScheduleRequest{
		SubscriptionID: "sub_1",
		CurrentPriceID: "price_family_pro",
		NewPriceID:     "price_plus",
		EffectiveDate:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_sched_4", id)

	assert.Equal(t, []string{
		"GET /v1/subscriptions/sub_1",
		"GET /v1/subscription_schedules/sub_sched_4",
		"POST /v1/subscription_schedules/sub_sched_4",
	}, api.routesCalled())
	assert.Equal(t, "price_plus", api.formFor(t, "POST /v1/subscription_schedules/sub_sched_4").Get("phases[1][items][0][price]"))
}

func TestCreateDowngradeSchedulePhaseFailure(t *testing.T) {
	req := models.ScheduleRequest{
		SubscriptionID: "sub_1",
		CurrentPriceID: "price_family_pro",
		NewPriceID:     "price_starter",
		EffectiveDate:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	failure := apiResponse{status: http.StatusInternalServerError, body: stripeError("api_error", "upstream failure")}

	t.Run("created schedule is released", func(t *testing.T) {
		c, api := newAPIClient(t, map[string]apiResponse{
			"GET /v1/subscriptions/sub_1":                         okResponse(subscriptionJSON("", false)),
			"POST /v1/subscription_schedules":                     okResponse(scheduleJSON("sub_sched_9")),
			"POST /v1/subscription_schedules/sub_sched_9":         failure,
			"POST /v1/subscription_schedules/sub_sched_9/release": okResponse(scheduleJSON("sub_sched_9")),
		})

		id, err := c.CreateDowngradeSchedule(context.Background(), req)
		require.Error(t, err)
		assert.Empty(t, id)
		assert.True(t, ierr.Is(err, ierr.ErrHTTPClient))
		assert.Equal(t, []string{
			"GET /v1/subscriptions/sub_1",
			"POST /v1/subscription_schedules",
			"POST /v1/subscription_schedules/sub_sched_9",
			"POST /v1/subscription_schedules/sub_sched_9/release",
		}, api.routesCalled())
	})

	t.Run("reused schedule is left attached", func(t *testing.T) {
		c, api := newAPIClient(t, map[string]apiResponse{
			"GET /v1/subscriptions/sub_1":                 okResponse(subscriptionJSON("sub_sched_4", false)),
			"GET /v1/subscription_schedules/sub_sched_4":  okResponse(scheduleJSON("sub_sched_4")),
			"POST /v1/subscription_schedules/sub_sched_4": failure,
		})

		_, err := c.CreateDowngradeSchedule(context.Background(), req)
		require.Error(t, err)
		assert.NotContains(t, api.routesCalled(), "POST /v1/subscription_schedules/sub_sched_4/release")
	})
}

func TestReleaseSchedule(t *testing.T) {
	t.Run("released", func(t *testing.T) {
		c, api := newAPIClient(t, map[string]apiResponse{
			"POST /v1/subscription_schedules/sub_sched_1/release": okResponse(scheduleJSON("sub_sched_1")),
		})

		require.NoError(t, c.ReleaseSchedule(context.Background(), "sub_sched_1"))
		assert.Equal(t, []string{"POST /v1/subscription_schedules/sub_sched_1/release"}, api.routesCalled())
	})

	t.Run("already released", func(t *testing.T) {
		c, _ := newAPIClient(t, map[string]apiResponse{
			"POST /v1/subscription_schedules/sub_sched_1/release": {
				status: http.StatusBadRequest,
				body:   stripeError("invalid_request_error", "You cannot release a subscription schedule that is currently in the `released` status."),
			},
		})

		assert.NoError(t, c.ReleaseSchedule(context.Background(), "sub_sched_1"))
	})

	t.Run("provider failure", func(t *testing.T) {
		c, _ := newAPIClient(t, map[string]apiResponse{
			"POST /v1/subscription_schedules/sub_sched_1/release": {
				status: http.StatusInternalServerError,
				body:   stripeError("api_error", "upstream failure"),
			},
		})

		err := c.ReleaseSchedule(context.Background(), "sub_sched_1")
		require.Error(t, err)
		assert.True(t, ierr.Is(err, ierr.ErrHTTPClient))
	})
}
