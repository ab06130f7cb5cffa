package management

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routecodex-go/internal/logging"
)

func TestLogsStreamReplaysAndTails(t *testing.T) {
	ring := logging.NewRingHook(16)
	logger := log.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(ring)
	logger.Info("before-connect")

	m := newMgmtHarness(t, func(o *Options) { o.Ring = ring })
	srv := httptest.NewServer(m.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/management/logs/stream"
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+mgmtKey)
	conn, resp, err := websocket.DefaultDialer.Dial(url, hdr)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var first logging.RingEntry
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "before-connect", first.Message)

	logger.Warn("live-entry")
	var second logging.RingEntry
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "live-entry", second.Message)
	assert.Equal(t, "warning", second.Level)
}

func TestLogsStreamRejectsWithoutKey(t *testing.T) {
	m := newMgmtHarness(t, func(o *Options) { o.Ring = logging.NewRingHook(4) })
	srv := httptest.NewServer(m.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v0/management/logs/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Nil(t, conn)
}
