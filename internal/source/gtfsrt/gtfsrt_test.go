package gtfsrt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/source"
)

func testFeed() *gtfsrtpb.FeedMessage {
	return &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1700000000),
		},
		Entity: []*gtfsrtpb.FeedEntity{
			{
				Id: proto.String("e1"),
				Vehicle: &gtfsrtpb.VehiclePosition{
					Trip:    &gtfsrtpb.TripDescriptor{TripId: proto.String("t1"), RouteId: proto.String("r9")},
					Vehicle: &gtfsrtpb.VehicleDescriptor{Id: proto.String("bus-7"), Label: proto.String("7")},
					Position: &gtfsrtpb.Position{
						Latitude:  proto.Float32(52.5),
						Longitude: proto.Float32(13.25),
						Bearing:   proto.Float32(90),
					},
					Timestamp: proto.Uint64(1700000005),
				},
			},
			{
				Id: proto.String("e2"),
				Vehicle: &gtfsrtpb.VehiclePosition{
					Position: &gtfsrtpb.Position{
						Latitude:  proto.Float32(1),
						Longitude: proto.Float32(2),
					},
				},
			},
			{
				Id:      proto.String("e3"),
				Vehicle: &gtfsrtpb.VehiclePosition{},
			},
			{
				Id:        proto.String("e4"),
				IsDeleted: proto.Bool(true),
				Vehicle: &gtfsrtpb.VehiclePosition{
					Position: &gtfsrtpb.Position{Latitude: proto.Float32(3), Longitude: proto.Float32(4)},
				},
			},
		},
	}
}

func TestRows(t *testing.T) {
	rows := Rows(testFeed())
	require.Len(t, rows, 2)

	first := rows[0]
	assert.Equal(t, "bus-7", first["id"])
	assert.Equal(t, "t1", first["tripId"])
	assert.Equal(t, "r9", first["routeId"])
	assert.Equal(t, "7", first["label"])
	assert.Equal(t, 90.0, first["bearing"])
	assert.NotContains(t, first, "speed")

	c, err := row.Coordinates(first)
	require.NoError(t, err)
	assert.Equal(t, 13.25, c.Lng)
	assert.Equal(t, 52.5, c.Lat)

	ts, err := row.Timestamp(first)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000005), ts)

	second := rows[1]
	assert.Equal(t, "e2", second["id"], "falls back to entity id")
	ts, err = row.Timestamp(second)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts, "falls back to header timestamp")
}

func TestFeed_Pull(t *testing.T) {
	data, err := proto.Marshal(testFeed())
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-protobuf")
		_, _ = w.Write(data)
	}))
	defer server.Close()

	ch := make(chan source.Result, 1)
	source.NewAdapter().Resolve(context.Background(), New(server.URL).Pull(), func(r source.Result) { ch <- r })

	select {
	case res := <-ch:
		require.NoError(t, res.Err)
		assert.Len(t, res.Rows, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for feed")
	}
}

func TestFeed_PullServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ch := make(chan source.Result, 1)
	source.NewAdapter().Resolve(context.Background(), New(server.URL).Pull(), func(r source.Result) { ch <- r })

	select {
	case res := <-ch:
		var he *source.HandlerError
		assert.ErrorAs(t, res.Err, &he)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for feed")
	}
}

func TestFeed_FetchGarbage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0xff, 0xff, 0xff})
	}))
	defer server.Close()

	_, err := New(server.URL).Fetch(context.Background())
	assert.Error(t, err)
}
