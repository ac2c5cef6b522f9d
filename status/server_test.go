package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/byzantine-generals/consensus"
	"github.com/luca-patrignani/byzantine-generals/ledger"
)

type fakeSource struct {
	snaps  []consensus.Snapshot
	ledger *ledger.Ledger
}

func (f fakeSource) Snapshots() []consensus.Snapshot { return f.snaps }
func (f fakeSource) Ledger() *ledger.Ledger          { return f.ledger }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	l := ledger.New()
	_, err := l.Append(consensus.Decision{Round: "r1", Order: consensus.OrderAttack, Yes: 3, Total: 4})
	require.NoError(t, err)
	src := fakeSource{
		snaps: []consensus.Snapshot{
			{ID: 1, Role: "primary", State: "NF", Outbound: []int{2}, Inbound: []int{2}},
			{ID: 2, Role: "secondary", State: "F", Outbound: []int{1}, Inbound: []int{1}},
		},
		ledger: l,
	}
	return New("127.0.0.1:0", src, slog.Default())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	w := get(t, newTestServer(t), "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestGenerals(t *testing.T) {
	s := newTestServer(t)
	w := get(t, s, "/generals")
	require.Equal(t, http.StatusOK, w.Code)

	var snaps []consensus.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, "primary", snaps[0].Role)
	assert.Equal(t, "F", snaps[1].State)

	w = get(t, s, "/generals/2")
	assert.Equal(t, http.StatusOK, w.Code)
	w = get(t, s, "/generals/9")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = get(t, s, "/generals/two")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRounds(t *testing.T) {
	s := newTestServer(t)
	w := get(t, s, "/rounds")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Blocks   []ledger.Block `json:"blocks"`
		Verified bool           `json:"verified"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Verified)
	require.Len(t, body.Blocks, 2)
	assert.Equal(t, "r1", body.Blocks[1].Decision.Round)

	w = get(t, s, "/rounds/1")
	assert.Equal(t, http.StatusOK, w.Code)
	w = get(t, s, "/rounds/5")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetrics(t *testing.T) {
	w := get(t, newTestServer(t), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "generals_"))
}
