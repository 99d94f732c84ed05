package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	types "github.com/relaysfu/core/api/types/v1"
	"github.com/relaysfu/core/internal/sfu/bridge"
	"github.com/relaysfu/core/internal/sfu/mcsgw"
	"github.com/relaysfu/core/internal/sfu/sourcetrack"
)

type fixedCounter int

func (c fixedCounter) Len() int { return int(c) }

func newTestServer() *Server {
	reg := bridge.NewRegistry(
		func(ctx context.Context, meetingID, voiceBridge string) (string, string, error) {
			return "mcsuser", "media-1", nil
		},
		func(meetingID, mcsUserID, mediaID string) {},
	)
	reg.Acquire(context.Background(), "meeting-1", "vb-1")

	sources := sourcetrack.New()
	sources.Add("cam-1", "v_user-1")

	return New("127.0.0.1:0", fixedCounter(2), fixedCounter(3), reg, sources, mcsgw.NewFakeGateway())
}

func doJSON(t *testing.T, handler http.HandlerFunc, path string, out interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s status = %d, want 200", path, rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("%s: unmarshal response: %v", path, err)
	}
}

func TestHandleStats(t *testing.T) {
	s := newTestServer()
	var resp types.StatsResponse
	doJSON(t, s.handleStats, "/api/v1/stats", &resp)

	if resp.AudioSessions != 2 || resp.VideoSessions != 3 || resp.ActiveBridges != 1 {
		t.Fatalf("resp = %+v, want audio=2 video=3 bridges=1", resp)
	}
}

func TestHandleSources(t *testing.T) {
	s := newTestServer()
	var resp types.SourcesResponse
	doJSON(t, s.handleSources, "/api/v1/sources", &resp)

	if resp.Total != 1 || len(resp.Sources) != 1 || resp.Sources[0].StreamName != "cam-1" {
		t.Fatalf("resp = %+v, want one source cam-1", resp)
	}
}

func TestHandleBridges(t *testing.T) {
	s := newTestServer()
	var resp types.BridgesResponse
	doJSON(t, s.handleBridges, "/api/v1/bridges", &resp)

	if resp.Total != 1 || len(resp.Bridges) != 1 || resp.Bridges[0].MeetingID != "meeting-1" {
		t.Fatalf("resp = %+v, want one bridge for meeting-1", resp)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer()
	var resp types.HealthResponse
	doJSON(t, s.handleHealth, "/healthz", &resp)

	if resp.Status != "ok" {
		t.Fatalf("resp.Status = %q, want ok", resp.Status)
	}
}
