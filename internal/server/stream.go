package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dj-oyu/threat-cam/streaming-server/internal/alert"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/logger"
	"github.com/dj-oyu/threat-cam/streaming-server/internal/mjpeg"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// streamMJPEGFromChannel writes framed parts from partCh until the channel
// closes or the client goes away.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, partCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", mjpeg.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case part, ok := <-partCh:
			if !ok {
				// Channel closed, stream is over
				return
			}
			if _, err := w.Write(part); err != nil {
				logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

// alertEvent holds one snapshot serialized in both stream formats
type alertEvent struct {
	JSONData     []byte
	ProtobufData []byte // base64 encoded for SSE
}

func newAlertEvent(s alert.Snapshot) (*alertEvent, error) {
	jsonData, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	st, err := structpb.NewStruct(map[string]any{
		"message":       s.Message,
		"camera_status": string(s.CameraStatus),
	})
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}

	return &alertEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

// streamAlertEvents sends the alert snapshot immediately and then on every
// tick until the client disconnects. The SSE id is the state version.
func streamAlertEvents(ctx context.Context, w http.ResponseWriter, state *alert.State, interval time.Duration, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		version := state.Version()
		event, err := newAlertEvent(state.Snapshot())
		if err != nil {
			logger.Error("SSE", "Failed to serialize alert snapshot: %v", err)
			return
		}

		data := event.JSONData
		if useProtobuf {
			data = event.ProtobufData
		}
		if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", version, data); err != nil {
			logger.Debug("SSE", "Client disconnected during alert write: %v", err)
			return
		}
		flusher.Flush()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
