package client

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/CUknot/locshare/changefeed"
	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/propagator"
	locws "github.com/CUknot/locshare/websocket"
)

const closeWait = time.Second

// stream reads one room's websocket and hands frames to the observer.
type stream struct {
	conn     *websocket.Conn
	roomID   string
	observer propagator.Observer
	done     chan struct{}

	mu      sync.Mutex
	stopped bool
}

func startStream(conn *websocket.Conn, roomID string, observer propagator.Observer) *stream {
	s := &stream{
		conn:     conn,
		roomID:   roomID,
		observer: observer,
		done:     make(chan struct{}),
	}
	go s.read()
	return s
}

// Stop closes the connection and waits for the reader to exit.
func (s *stream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeWait))
	_ = s.conn.Close()
	<-s.done
}

func (s *stream) read() {
	log := logging.With().Str("room_id", s.roomID).Logger()

	var err error
	for {
		var raw []byte
		if _, raw, err = s.conn.ReadMessage(); err != nil {
			break
		}

		var msg locws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		s.dispatch(msg, &log)
	}

	s.mu.Lock()
	lost := !s.stopped
	s.stopped = true
	s.mu.Unlock()

	if lost {
		log.Warn().Err(err).Msg("Room stream ended")
		_ = s.conn.Close()
	}
	close(s.done)

	if end, ok := s.observer.(StreamEndObserver); ok && lost {
		end.OnStreamEnd(err)
	}
}

func (s *stream) dispatch(msg locws.Message, log *zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	switch msg.Type {
	case locws.TypeSnapshot:
		var snap locws.SnapshotPayload
		if err := json.Unmarshal(msg.Payload, &snap); err != nil {
			log.Warn().Err(err).Msg("Dropping malformed snapshot")
			return
		}
		s.observer.OnSnapshot(snap.Locations)
	case locws.TypeLocationChange:
		var ev changefeed.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil || !ev.Type.Valid() {
			log.Warn().Err(err).Msg("Dropping malformed change")
			return
		}
		s.observer.OnEvent(ev)
	case locws.TypeError:
		var p locws.ErrorPayload
		_ = json.Unmarshal(msg.Payload, &p)
		log.Warn().Str("error", p.Message).Msg("Server reported an error")
	}
}
