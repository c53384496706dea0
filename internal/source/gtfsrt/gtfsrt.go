// Package gtfsrt turns a GTFS-realtime VehiclePositions feed into map rows.
package gtfsrt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/OCAP2/trailmap/internal/row"
	"github.com/OCAP2/trailmap/internal/source"
)

// Feed polls one VehiclePositions endpoint.
type Feed struct {
	url    string
	client *http.Client
}

// New creates a feed reader for url.
func New(url string) *Feed {
	return &Feed{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Fetch downloads and decodes the feed.
func (f *Feed) Fetch(ctx context.Context) (*gtfsrtpb.FeedMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}

	var fm gtfsrtpb.FeedMessage
	if err := proto.Unmarshal(b, &fm); err != nil {
		return nil, fmt.Errorf("failed to decode feed: %w", err)
	}
	return &fm, nil
}

// Pull adapts the feed to a pull input. Each call fetches the feed once in
// the background.
func (f *Feed) Pull() source.PullFunc {
	return func(ctx context.Context, resolve func(source.Result)) error {
		go func() {
			fm, err := f.Fetch(ctx)
			if err != nil {
				resolve(source.Result{Err: err})
				return
			}
			resolve(source.Result{Rows: Rows(fm)})
		}()
		return nil
	}
}

// Rows extracts one row per vehicle entity with a position. The vehicle id is
// preferred as the entity identity, falling back to the feed entity id. A
// vehicle without its own timestamp takes the header's.
func Rows(fm *gtfsrtpb.FeedMessage) []row.Row {
	headerTS := fm.GetHeader().GetTimestamp()

	var rows []row.Row
	for _, e := range fm.GetEntity() {
		if e.GetIsDeleted() {
			continue
		}
		v := e.GetVehicle()
		if v == nil || v.GetPosition() == nil {
			continue
		}
		pos := v.GetPosition()

		id := v.GetVehicle().GetId()
		if id == "" {
			id = e.GetId()
		}

		r := row.Row{
			row.IDField: id,
			"latitude":  float64(pos.GetLatitude()),
			"longitude": float64(pos.GetLongitude()),
		}
		ts := v.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		if ts != 0 {
			r[row.TimeField] = int64(ts)
		}
		if pos.Bearing != nil {
			r["bearing"] = float64(pos.GetBearing())
		}
		if pos.Speed != nil {
			r["speed"] = float64(pos.GetSpeed())
		}
		if label := v.GetVehicle().GetLabel(); label != "" {
			r["label"] = label
		}
		if trip := v.GetTrip(); trip != nil {
			if tripID := trip.GetTripId(); tripID != "" {
				r["tripId"] = tripID
			}
			if routeID := trip.GetRouteId(); routeID != "" {
				r["routeId"] = routeID
			}
		}
		rows = append(rows, r)
	}
	return rows
}
