package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"bizsim/internal/game"
)

func TestRecorderCountsQuarterTicks(t *testing.T) {
	beforeQuarters := testutil.ToFloat64(QuartersCompleted)
	beforeShocks := testutil.ToFloat64(MarketShocks)
	beforeEvents := testutil.ToFloat64(EventsTotal.WithLabelValues(string(game.EventQuarterCompleted)))

	Recorder{}.Publish(context.Background(), game.Event{
		Type:     game.EventQuarterCompleted,
		GameID:   "g1",
		Results:  map[string]game.QuarterResult{"a": {}, "b": {}},
		Messages: []string{"Supply chain crisis"},
	})
	Recorder{}.Publish(context.Background(), game.Event{Type: game.EventCompanyJoined, GameID: "g1"})

	assert.Equal(t, beforeQuarters+1, testutil.ToFloat64(QuartersCompleted))
	assert.Equal(t, beforeShocks+1, testutil.ToFloat64(MarketShocks))
	assert.Equal(t, beforeEvents+1, testutil.ToFloat64(EventsTotal.WithLabelValues(string(game.EventQuarterCompleted))))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/games/{gameID}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/games/{gameID}/status", "418"))
	for _, id := range []string{"one", "two", "three"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/games/"+id+"/status", nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/v1/games/{gameID}/status", "418"))
	assert.Equal(t, before+3, after)
}
