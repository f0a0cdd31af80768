package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMeasure_CountsStatus(t *testing.T) {
	h := Measure(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(RequestsTotal.WithLabelValues("418")))
}

func TestObserveRun(t *testing.T) {
	ObserveRun("test", 10, 7, 2, 1, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(RunsTotal.WithLabelValues("test")))
	assert.Equal(t, 10.0, testutil.ToFloat64(RowsProcessed.WithLabelValues("test")))
	assert.Equal(t, 7.0, testutil.ToFloat64(AdsGenerated.WithLabelValues("test")))
	assert.Equal(t, 2.0, testutil.ToFloat64(AdsSkipped.WithLabelValues("test")))
}
