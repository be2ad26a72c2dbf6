package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-ticketing/gateway"
	"train-ticketing/ledger"
	"train-ticketing/models"
	"train-ticketing/policy"
	"train-ticketing/services"
	"train-ticketing/store"
)

type testAPI struct {
	router   *gin.Engine
	schedule *models.TrainSchedule
}

func newTestAPI(t *testing.T) *testAPI {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	authz, err := policy.New(ctx)
	require.NoError(t, err)
	records := store.NewMemory()
	seats := ledger.NewMemory()

	h := &Handler{
		Schedules:  services.NewScheduleService(records, seats, logger),
		Passengers: services.NewPassengerService(records, authz, logger),
		Orders:     services.NewOrderService(records, authz),
		Tickets: services.NewTicketService(services.TicketDeps{
			Schedules:  records,
			Ledger:     seats,
			Identity:   gateway.NewSimulatedIdentity(0, logger),
			Payments:   gateway.NewSimulatedPayment(0, 0, logger),
			Store:      records,
			Passengers: records,
			Authz:      authz,
			Logger:     logger,
		}, services.TicketConfig{}),
		Logger: logger,
	}
	h.Schedules.RegisterStations(
		models.Station{Code: "BJP", Name: "Beijing South", City: "Beijing"},
		models.Station{Code: "AOH", Name: "Shanghai Hongqiao", City: "Shanghai"},
	)

	departure := time.Now().Add(48 * time.Hour)
	schedule := &models.TrainSchedule{
		TrainNumber:      "G1",
		DepartureStation: "Beijing South",
		ArrivalStation:   "Shanghai Hongqiao",
		DepartureTime:    departure,
		ArrivalTime:      departure.Add(4 * time.Hour),
	}
	require.NoError(t, h.Schedules.AddSchedule(ctx, schedule, []models.Fare{
		{Class: models.SecondClass, Price: models.Yuan(553), Capacity: 1},
		{Class: models.FirstClass, Price: models.Yuan(933), Capacity: 5},
	}))

	return &testAPI{router: NewRouter(h), schedule: schedule}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testAPI) do(t *testing.T, method, path, user string, body interface{}) (int, envelope) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode(t *testing.T, env envelope, out interface{}) {
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func (a *testAPI) addPassenger(t *testing.T, user, idNumber string) models.Passenger {
	code, env := a.do(t, http.MethodPost, "/api/passengers", user, models.PassengerCreateRequest{
		Name: "Zhang San", IDNumber: idNumber,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var p models.Passenger
	decode(t, env, &p)
	return p
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestSearchAndGetSchedule(t *testing.T) {
	api := newTestAPI(t)
	date := api.schedule.DepartureTime.In(time.Local).Format("2006-01-02")

	code, env := api.do(t, http.MethodGet, "/api/schedules?from=BJP&to=AOH&date="+date, "", nil)
	require.Equal(t, http.StatusOK, code)
	var found []models.TrainSchedule
	decode(t, env, &found)
	require.Len(t, found, 1)
	assert.Equal(t, 1, found[0].Available[models.SecondClass])

	code, env = api.do(t, http.MethodGet, "/api/schedules?date=tomorrow", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)

	code, env = api.do(t, http.MethodGet, "/api/schedules/"+api.schedule.ID, "", nil)
	require.Equal(t, http.StatusOK, code)
	var schedule models.TrainSchedule
	decode(t, env, &schedule)
	assert.Equal(t, models.Yuan(933), schedule.Prices[models.FirstClass])

	code, _ = api.do(t, http.MethodGet, "/api/schedules/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTicketLifecycle(t *testing.T) {
	api := newTestAPI(t)
	p := api.addPassenger(t, "u1", "110101199003074258")

	code, env := api.do(t, http.MethodPost, "/api/tickets", "u1", models.PurchaseRequest{
		ScheduleID: api.schedule.ID, PassengerID: p.ID, FareClass: models.SecondClass,
	})
	require.Equal(t, http.StatusCreated, code, env.Message)
	var bought models.PurchaseResult
	decode(t, env, &bought)
	assert.Equal(t, models.TicketPaid, bought.Ticket.Status)

	// Sold out now
	other := api.addPassenger(t, "u2", "310104198512302215")
	code, env = api.do(t, http.MethodPost, "/api/tickets", "u2", models.PurchaseRequest{
		ScheduleID: api.schedule.ID, PassengerID: other.ID, FareClass: models.SecondClass,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)

	code, _ = api.do(t, http.MethodGet, "/api/tickets/"+bought.Ticket.ID, "u2", nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, env = api.do(t, http.MethodPost, "/api/tickets/"+bought.Ticket.ID+"/change", "u1", models.ChangeRequest{
		NewScheduleID: api.schedule.ID, NewFareClass: models.FirstClass,
	})
	require.Equal(t, http.StatusOK, code, env.Message)
	var changed models.ChangeResult
	decode(t, env, &changed)
	assert.Equal(t, models.Yuan(380), changed.PriceDifference)

	code, env = api.do(t, http.MethodPost, "/api/tickets/"+changed.NewTicket.ID+"/refund", "u1", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	var refund models.RefundResult
	decode(t, env, &refund)
	assert.Equal(t, models.TicketRefunded, refund.Status)

	code, env = api.do(t, http.MethodGet, "/api/tickets", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var tickets []models.Ticket
	decode(t, env, &tickets)
	assert.Len(t, tickets, 2)

	code, env = api.do(t, http.MethodGet, "/api/orders", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var orders []models.Order
	decode(t, env, &orders)
	require.Len(t, orders, 2)
	assert.Equal(t, models.OrderChange, orders[0].Type)

	code, _ = api.do(t, http.MethodGet, "/api/orders/"+orders[1].ID, "u1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestIdentityGatewayRejection(t *testing.T) {
	api := newTestAPI(t)
	p := api.addPassenger(t, "u1", gateway.FailingIDNumber)

	code, env := api.do(t, http.MethodPost, "/api/tickets", "u1", models.PurchaseRequest{
		ScheduleID: api.schedule.ID, PassengerID: p.ID, FareClass: models.SecondClass,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.False(t, env.Success)
}

func TestRequestsNeedAUser(t *testing.T) {
	api := newTestAPI(t)

	code, env := api.do(t, http.MethodGet, "/api/tickets", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Contains(t, env.Message, HeaderUserID)

	code, _ = api.do(t, http.MethodPost, "/api/tickets", "u1", map[string]string{"fare_class": "first"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestPassengerRoutes(t *testing.T) {
	api := newTestAPI(t)
	first := api.addPassenger(t, "u1", "110101199003074258")
	second := api.addPassenger(t, "u1", "310104198512302215")

	code, env := api.do(t, http.MethodPost, "/api/passengers/"+second.ID+"/default", "u1", nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = api.do(t, http.MethodGet, "/api/passengers", "u1", nil)
	require.Equal(t, http.StatusOK, code)
	var list []models.Passenger
	decode(t, env, &list)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)

	code, _ = api.do(t, http.MethodDelete, "/api/passengers/"+first.ID, "u2", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = api.do(t, http.MethodDelete, "/api/passengers/"+first.ID, "u1", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestScheduleStatusNeedsOperator(t *testing.T) {
	api := newTestAPI(t)
	path := "/api/schedules/" + api.schedule.ID + "/status"

	code, _ := api.do(t, http.MethodPost, path, "u1", map[string]string{"status": "Suspended"})
	assert.Equal(t, http.StatusForbidden, code)

	body, _ := json.Marshal(map[string]string{"status": "Suspended"})
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderUserID, "desk-1")
	req.Header.Set(HeaderUserRole, policy.RoleOperator)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
