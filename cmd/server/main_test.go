package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"energy_billing/internal/billing"
	"energy_billing/internal/ingest"
	"energy_billing/internal/metrics"
	"energy_billing/internal/store"
	"energy_billing/internal/tariff"
	"energy_billing/internal/ws"
)

const sample = "../../internal/ingest/testdata/two_meters.csv"

func testServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	metrics.Init()

	tariffs, err := tariff.Load("../../internal/tariff/testdata/tariffs.yaml")
	require.NoError(t, err)

	st := store.NewMemory()
	hub := ws.NewHub(nil)
	importer := ingest.NewImporter(st, ingest.WithObserver(ws.NewBridge(hub, nil)))
	srv := httptest.NewServer(newMux(billing.New(st, tariffs), importer, hub, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, st
}

func postFile(t *testing.T, srv *httptest.Server, path, query string) (int, importResponse) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	resp, err := http.Post(srv.URL+"/api/import"+query, "text/csv", f)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body importResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestImport(t *testing.T) {
	srv, st := testServer(t)

	status, body := postFile(t, srv, sample, "?nmi=NCDE001111")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "NCDE001111", body.NMI)
	assert.Equal(t, 192, body.RowsAppended)
	assert.NotEmpty(t, body.BatchID)
	assert.Equal(t, 192, st.Count())

	status, body = postFile(t, srv, sample, "?nmi=NCDE001111")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, body.RowsAppended)
	assert.Equal(t, 192, body.RowsSkippedAsDuplicate)
	assert.Equal(t, 192, st.Count())
}

func TestImport_Rejections(t *testing.T) {
	srv, st := testServer(t)

	status, body := postFile(t, srv, sample, "?nmi=NCDE009999")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "converting", body.FailedStage)

	status, body = postFile(t, srv, "../../internal/ingest/testdata/unknown_channel.csv", "")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, body.Error, "Z1")

	resp, err := http.Post(srv.URL+"/api/import", "text/csv", strings.NewReader("100,NEM12\n300,20240101\n"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	assert.Zero(t, st.Count())
}

func TestImport_MethodNotAllowed(t *testing.T) {
	srv, _ := testServer(t)

	resp, err := http.Get(srv.URL + "/api/import")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	srv, _ := testServer(t)
	postFile(t, srv, sample, "")

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "energy_billing_ingest_runs_total")
	assert.Contains(t, string(data), "energy_billing_ingest_rows_total")
}

func TestWebSocket_StreamsImportAndBills(t *testing.T) {
	srv, _ := testServer(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() ws.Envelope {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		var env ws.Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		return env
	}
	assert.Equal(t, ws.TypeVendors, read().Type)

	status, _ := postFile(t, srv, sample, "")
	require.Equal(t, http.StatusOK, status)

	var stages []string
	for {
		env := read()
		if env.Type == ws.TypeIngestResult {
			var p ws.IngestResultPayload
			require.NoError(t, json.Unmarshal(env.Payload, &p))
			assert.Equal(t, "done", p.Status)
			assert.Equal(t, 240, p.RowsAppended)
			break
		}
		require.Equal(t, ws.TypeIngestStage, env.Type)
		var p ws.IngestStagePayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		stages = append(stages, p.Stage)
	}
	assert.Equal(t, []string{"parsing", "converting", "deduplicating", "appending"}, stages)

	req, err := ws.NewEnvelope(ws.TypeBillRequest, ws.BillRequestPayload{
		RequestID: "jan",
		Vendor:    "vendor_1",
		Start:     "2024-01-01",
		End:       "2024-01-03",
		NMI:       "NCDE001111",
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, req))

	env := read()
	require.Equal(t, ws.TypeBillBreakdown, env.Type)
	var bill ws.BillBreakdownPayload
	require.NoError(t, json.Unmarshal(env.Payload, &bill))
	assert.Equal(t, "jan", bill.RequestID)
	assert.Equal(t, 2, bill.Days)
	assert.Equal(t, "5.19", bill.NetCost, fmt.Sprintf("%+v", bill))
}
