package changefeed

import (
	"gorm.io/gorm"

	"github.com/CUknot/locshare/logging"
	"github.com/CUknot/locshare/models"
)

const hooksSource = "hooks"

// RegisterHooks publishes an event for every committed write on the
// locations table made through db. It serves stores without LISTEN/NOTIFY.
//
// Only writes that carry the affected rows in the statement destination are
// seen: Create and Save with a *Location, and deletes that use RETURNING
// into a []Location, which is what the repository does.
func RegisterHooks(db *gorm.DB, pub Publisher) error {
	cb := db.Callback()
	if err := cb.Create().After("gorm:commit_or_rollback_transaction").
		Register("changefeed:after_create", emitter(pub, Insert)); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:commit_or_rollback_transaction").
		Register("changefeed:after_update", emitter(pub, Update)); err != nil {
		return err
	}
	return cb.Delete().After("gorm:commit_or_rollback_transaction").
		Register("changefeed:after_delete", emitter(pub, Delete))
}

func emitter(pub Publisher, typ EventType) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil || db.RowsAffected == 0 || db.DryRun {
			return
		}
		if db.Statement.Schema == nil || db.Statement.Schema.Table != "locations" {
			return
		}
		for _, row := range rowsOf(db.Statement.Dest) {
			ev := Event{Type: typ, Row: row}
			if err := pub.Publish(db.Statement.Context, hooksSource, ev); err != nil {
				logging.Warn().Err(err).
					Str("location_id", row.ID).
					Str("room_id", row.RoomID).
					Msg("Change event not published")
			}
		}
	}
}

func rowsOf(dest any) []models.Location {
	switch v := dest.(type) {
	case *models.Location:
		if v == nil {
			return nil
		}
		return []models.Location{*v}
	case []models.Location:
		return v
	case *[]models.Location:
		if v == nil {
			return nil
		}
		return *v
	default:
		return nil
	}
}
