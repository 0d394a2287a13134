package metrics

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordLocationWrite(t *testing.T) {
	before := testutil.ToFloat64(LocationWrites.WithLabelValues("marker"))
	RecordLocationWrite("marker")
	RecordLocationWrite("marker")
	assert.Equal(t, before+2, testutil.ToFloat64(LocationWrites.WithLabelValues("marker")))
}

func TestRecordStoreError(t *testing.T) {
	before := testutil.ToFloat64(StoreErrors.WithLabelValues("delete_room"))
	RecordStoreError("delete_room")
	assert.Equal(t, before+1, testutil.ToFloat64(StoreErrors.WithLabelValues("delete_room")))
}

func TestRecordFeedEvent(t *testing.T) {
	before := testutil.ToFloat64(FeedEvents.WithLabelValues("hooks", "INSERT"))
	RecordFeedEvent("hooks", "INSERT")
	assert.Equal(t, before+1, testutil.ToFloat64(FeedEvents.WithLabelValues("hooks", "INSERT")))
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/rooms/:id", "404"))
	RecordAPIRequest("GET", "/api/rooms/:id", http.StatusNotFound, 3*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(APIRequestsTotal.WithLabelValues("GET", "/api/rooms/:id", "404")))
}
