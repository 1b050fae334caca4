package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/delayed/stream"
)

// streamEvents upgrades to a websocket and writes one JSON text frame per
// stream event on the requested topic (firehose by default). The feed ends
// when the client disconnects or the broker shuts down.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request) {
	if a.broker == nil {
		writeErr(w, http.StatusNotFound, errors.New("event stream is not enabled"))
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = stream.TopicFirehose
	}
	if err := stream.ValidateTopic(topic); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	subID := fmt.Sprintf("ws-%d", a.streams.Add(1))
	sub := a.broker.Subscribe(subID, topic)
	defer a.broker.RemoveSubscriber(subID)

	a.logger.Debug("stream subscriber connected",
		slog.String("subscriber", subID),
		slog.String("topic", topic),
	)

	// Reading is only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, readErr := wsutil.ReadClientData(conn); readErr != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case evt, ok := <-sub.C():
			if !ok {
				_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
				return
			}
			data, marshalErr := json.Marshal(evt)
			if marshalErr != nil {
				continue
			}
			if writeErr := wsutil.WriteServerText(conn, data); writeErr != nil {
				return
			}
		}
	}
}
