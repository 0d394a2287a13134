package changefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/repository"
)

const (
	notifySource = "notify"
	closeTimeout = 5 * time.Second
)

// RowLoader reads one location. repository.LocationRepository satisfies it.
type RowLoader interface {
	FindByID(ctx context.Context, id string) (*models.Location, error)
}

// PGListener republishes notifications sent by the locations trigger
// installed by database.Migrate. It implements suture.Service: Serve returns
// on connection loss and is restarted by the supervisor.
type PGListener struct {
	dsn     string
	channel string
	rows    RowLoader
	pub     Publisher
}

func NewPGListener(dsn, channel string, rows RowLoader, pub Publisher) *PGListener {
	return &PGListener{dsn: dsn, channel: channel, rows: rows, pub: pub}
}

func (l *PGListener) String() string { return "pg-listener(" + l.channel + ")" }

func (l *PGListener) Serve(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	logging.Info().Str("channel", l.channel).Msg("Listening for location changes")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		ev, ok, err := l.resolve(ctx, []byte(n.Payload))
		if err != nil {
			logging.Warn().Err(err).Str("channel", n.Channel).Msg("Ignoring notification")
			continue
		}
		if !ok {
			continue
		}
		if err := l.pub.Publish(ctx, notifySource, ev); err != nil {
			logging.Warn().Err(err).
				Str("location_id", ev.Row.ID).
				Str("room_id", ev.Row.RoomID).
				Msg("Change event not published")
		}
	}
}

// resolve turns a notification into an event. Notifications carry only the
// row key, so inserts and updates are completed from the store. A row that
// is already gone is skipped; its DELETE notification follows.
func (l *PGListener) resolve(ctx context.Context, payload []byte) (Event, bool, error) {
	ev, err := decodeEvent(payload)
	if err != nil {
		return Event{}, false, err
	}
	if ev.Type == Delete {
		return ev, true, nil
	}

	row, err := l.rows.FindByID(ctx, ev.Row.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, fmt.Errorf("load location %s: %w", ev.Row.ID, err)
	}
	ev.Row = *row
	return ev, true, nil
}
