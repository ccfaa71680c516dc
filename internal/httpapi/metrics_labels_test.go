package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMux_ModelRoutesLabelledByPattern(t *testing.T) {
	h := NewMux(&mockService{})
	load := httpRequestsTotal.WithLabelValues("/models/{id}/load", http.MethodPost, "200")
	before := testutil.ToFloat64(load)

	for _, id := range []string{"math-small", "coder", "general"} {
		if rr := postJSON(h, "/models/"+id+"/load", ""); rr.Code != http.StatusOK {
			t.Fatalf("load %s: status=%d", id, rr.Code)
		}
	}
	if got := testutil.ToFloat64(load) - before; got != 3 {
		t.Fatalf("loads under one pattern label: delta=%v want 3", got)
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := mrr.Body.Bytes()
	for _, raw := range []string{"/models/math-small/load", "/models/coder/load"} {
		if bytes.Contains(body, []byte(raw)) {
			t.Fatalf("model id leaked into metric labels: %s", raw)
		}
	}
}

func TestMux_QueryRecordsResponseSize(t *testing.T) {
	h := NewMux(&mockService{})
	before := testutil.CollectAndCount(httpResponseBytes, "modelrouter_http_response_bytes")

	rr := postJSON(h, "/query", `{"query":"what is 6*7?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("query status=%d body=%s", rr.Code, rr.Body.String())
	}
	ok := httpRequestsTotal.WithLabelValues("/query", http.MethodPost, "200")
	if testutil.ToFloat64(ok) < 1 {
		t.Fatalf("query request not counted under /query")
	}
	if after := testutil.CollectAndCount(httpResponseBytes, "modelrouter_http_response_bytes"); after < before || after == 0 {
		t.Fatalf("response size histogram has no /query series: before=%d after=%d", before, after)
	}
}

func TestMux_SwaggerAbsentWithoutTag(t *testing.T) {
	rr := httptest.NewRecorder()
	NewMux(&mockService{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/swagger/index.html", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("swagger served without the swagger build tag: status=%d", rr.Code)
	}
}
