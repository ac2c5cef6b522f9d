package telemetry

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesNamespace(t *testing.T) {
	MessagesSent.WithLabelValues("get-order").Inc()
	Members.Set(4)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `generals_messages_sent_total{command="get-order"}`))
	assert.True(t, strings.Contains(string(body), "generals_members 4"))
}

func TestRoundsByOutcome(t *testing.T) {
	before := testutil.ToFloat64(RoundsTotal.WithLabelValues("executed"))
	RoundsTotal.WithLabelValues("executed").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RoundsTotal.WithLabelValues("executed")))
}
