package database

import (
	"fmt"
	"regexp"

	"gorm.io/gorm"
)

// livePositionIndexSQL makes (room_id, user_id) unique among live positions.
// Custom markers are excluded so a user can hold any number of them.
const livePositionIndexSQL = `CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_live_position
ON locations (room_id, user_id) WHERE NOT is_custom_marker`

// notifyFunctionSQL publishes every row change on locations as
// {"type": "INSERT|UPDATE|DELETE", "row": {"id", "room_id", "user_id"}} on
// the given channel. Only key columns are sent: pg_notify rejects payloads
// of 8000 bytes or more, and an error here would abort the write. The
// listener loads the rest of the row.
const notifyFunctionSQL = `CREATE OR REPLACE FUNCTION notify_location_change() RETURNS trigger AS $$
DECLARE
	rec locations;
	payload json;
BEGIN
	IF TG_OP = 'DELETE' THEN
		rec := OLD;
	ELSE
		rec := NEW;
	END IF;
	payload := json_build_object('type', TG_OP,
		'row', json_build_object('id', rec.id, 'room_id', rec.room_id, 'user_id', rec.user_id));
	PERFORM pg_notify('%s', payload::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`

const notifyTriggerSQL = `DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'locations_notify') THEN
		CREATE TRIGGER locations_notify
		AFTER INSERT OR UPDATE OR DELETE ON locations
		FOR EACH ROW EXECUTE FUNCTION notify_location_change();
	END IF;
END
$$`

var channelName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func installNotifyTrigger(db *gorm.DB, channel string) error {
	// The channel is interpolated into SQL, so only plain identifiers are allowed.
	if !channelName.MatchString(channel) {
		return fmt.Errorf("invalid notify channel %q", channel)
	}
	if err := db.Exec(fmt.Sprintf(notifyFunctionSQL, channel)).Error; err != nil {
		return fmt.Errorf("create notify function: %w", err)
	}
	if err := db.Exec(notifyTriggerSQL).Error; err != nil {
		return fmt.Errorf("create notify trigger: %w", err)
	}
	return nil
}
