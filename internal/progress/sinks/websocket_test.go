package sinks

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/progress"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebsocketSinkBroadcastsAndFilters(t *testing.T) {
	t.Parallel()

	sink := NewWebsocketSink(nil, nil)
	srv := httptest.NewServer(sink)
	t.Cleanup(srv.Close)

	all := dial(t, srv, "/")
	one := dial(t, srv, "/?batch=moma/2")
	require.Eventually(t, func() bool { return sink.Clients() == 2 }, time.Second, 5*time.Millisecond)

	now := time.Unix(1700000000, 0).UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{BatchID: "rijks/1", TS: now, Stage: progress.StageBatchState, State: "started"},
		{BatchID: "moma/2", TS: now, Stage: progress.StageItemDone, ItemID: "7", Result: "created"},
	}))

	var evt progress.Event
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, all.ReadJSON(&evt))
	require.Equal(t, "rijks/1", evt.BatchID)
	require.NoError(t, all.ReadJSON(&evt))
	require.Equal(t, "moma/2", evt.BatchID)

	require.NoError(t, one.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, one.ReadJSON(&evt))
	require.Equal(t, "moma/2", evt.BatchID)
	require.Equal(t, "7", evt.ItemID)

	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, 0, sink.Clients())
	_, _, err := all.ReadMessage()
	require.Error(t, err)
}
