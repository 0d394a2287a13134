//go:build integration

package changefeed

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CUknot/locshare/config"
	"github.com/CUknot/locshare/database"
	"github.com/CUknot/locshare/models"
	"github.com/CUknot/locshare/repository"
)

func skipIfNoDocker(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if exec.CommandContext(ctx, "docker", "info").Run() != nil {
		t.Skip("Skipping test: Docker not available")
	}
}

func startPostgres(t *testing.T) config.DatabaseConfig {
	t.Helper()
	skipIfNoDocker(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "locshare",
				"POSTGRES_PASSWORD": "locshare",
				"POSTGRES_DB":       "locshare",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return config.DatabaseConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     port.Int(),
		User:     "locshare",
		Password: "locshare",
		Name:     "locshare",
		SSLMode:  "disable",
	}
}

func TestPGListener_RepublishesTriggerNotifications(t *testing.T) {
	dbCfg := startPostgres(t)

	db, err := database.Connect(dbCfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "location_changes", true))

	bus := NewInProcessBus(16)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, "r1")
	require.NoError(t, err)

	locations := repository.NewGormLocationRepository(db)
	listener := NewPGListener(dbCfg.DSN(), "location_changes", locations, bus)
	go func() { _ = listener.Serve(ctx) }()
	time.Sleep(500 * time.Millisecond)

	loc := &models.Location{RoomID: "r1", UserID: "u1", UserName: "ana", Latitude: 40.4168, Longitude: -3.7038}
	require.NoError(t, locations.UpsertLivePosition(ctx, loc))

	ev := next(t, ch)
	assert.Equal(t, Insert, ev.Type)
	assert.Equal(t, loc.ID, ev.Row.ID)

	again := &models.Location{RoomID: "r1", UserID: "u1", UserName: "ana", Latitude: 41, Longitude: -3}
	require.NoError(t, locations.UpsertLivePosition(ctx, again))
	ev = next(t, ch)
	assert.Equal(t, Update, ev.Type)
	assert.Equal(t, loc.ID, ev.Row.ID)
	assert.Equal(t, 41.0, ev.Row.Latitude)

	require.NoError(t, locations.Delete(ctx, loc.ID))
	ev = next(t, ch)
	assert.Equal(t, Delete, ev.Type)
	assert.Equal(t, loc.ID, ev.Row.ID)
}

func TestPGListener_LongMarkerDescription(t *testing.T) {
	dbCfg := startPostgres(t)

	db, err := database.Connect(dbCfg)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, "location_changes", false))

	bus := NewInProcessBus(16)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := bus.Subscribe(ctx, "r1")
	require.NoError(t, err)

	locations := repository.NewGormLocationRepository(db)
	listener := NewPGListener(dbCfg.DSN(), "location_changes", locations, bus)
	go func() { _ = listener.Serve(ctx) }()
	time.Sleep(500 * time.Millisecond)

	name, desc := "Lunch", strings.Repeat("x", 9000)
	marker := &models.Location{RoomID: "r1", UserID: "u1", UserName: "ana", Latitude: 40, Longitude: -3,
		Name: &name, Description: &desc, IsCustomMarker: true}
	require.NoError(t, locations.Create(ctx, marker), "the trigger must not reject large rows")

	ev := next(t, ch)
	assert.Equal(t, Insert, ev.Type)
	require.NotNil(t, ev.Row.Description)
	assert.Len(t, *ev.Row.Description, 9000, "the listener loads the full row")
}
