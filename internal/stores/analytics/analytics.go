package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
)

// Config holds the InfluxDB settings for the analytics store.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// PointWriter is the subset of api.WriteAPIBlocking the store uses.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// Deleter is the subset of api.DeleteAPI the store uses.
type Deleter interface {
	DeleteWithName(ctx context.Context, orgName, bucketName string, start, stop time.Time, predicate string) error
}

// Pinger reports server reachability.
type Pinger interface {
	Ping(ctx context.Context) (bool, error)
}

// Store mirrors records into InfluxDB, one measurement per table and one series per record.
// Points are stamped with the record's creation time so rewrites replace rather than append.
type Store struct {
	org     string
	bucket  string
	writer  PointWriter
	deleter Deleter
	pinger  Pinger
	closer  func()
	now     func() time.Time
}

var _ stores.Upserter = (*Store)(nil)

// Open builds a store from an InfluxDB client.
func Open(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URL) == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("analytics: url, org and bucket are required")
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	store := New(cfg.Org, cfg.Bucket, client.WriteAPIBlocking(cfg.Org, cfg.Bucket), client.DeleteAPI(), client)
	store.closer = client.Close
	return store, nil
}

// New wires the store from its API parts.
func New(org, bucket string, writer PointWriter, deleter Deleter, pinger Pinger) *Store {
	return &Store{
		org:     org,
		bucket:  bucket,
		writer:  writer,
		deleter: deleter,
		pinger:  pinger,
		now:     time.Now,
	}
}

// Close releases the client when the store owns it.
func (s *Store) Close() {
	if s.closer != nil {
		s.closer()
	}
}

func (s *Store) Name() stores.Name {
	return stores.Analytics
}

func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.pinger.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("analytics: server not ready")
	}
	return nil
}

// Upsert writes the record's scalar fields as one point.
func (s *Store) Upsert(ctx context.Context, route stores.Route, entity models.Entity) (err error) {
	defer observe("upsert", time.Now(), &err)

	point, err := toPoint(route, entity)
	if err != nil {
		return err
	}
	return s.writer.WritePoint(ctx, point)
}

// Remove deletes every point of the record's series.
func (s *Store) Remove(ctx context.Context, route stores.Route, id string) (err error) {
	defer observe("remove", time.Now(), &err)

	predicate := fmt.Sprintf(`_measurement=%q AND id=%q`, route.Table, id)
	return s.deleter.DeleteWithName(ctx, s.org, s.bucket, time.Unix(0, 0).UTC(), s.now().Add(time.Hour), predicate)
}

func toPoint(route stores.Route, entity models.Entity) (*write.Point, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	tags := map[string]string{"id": entity.EntityKey()}
	if region, ok := doc["region"].(string); ok && region != "" {
		tags["region"] = region
	}

	fields := map[string]any{}
	for key, value := range doc {
		switch key {
		case "id", "region", "created_at":
			continue
		}
		switch v := value.(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
				fields[key] = ts.UnixMilli()
				continue
			}
			fields[key] = v
		case float64, bool:
			fields[key] = v
		}
	}
	if len(fields) == 0 {
		fields["present"] = true
	}

	ts := entity.CreatedTime()
	if ts.IsZero() {
		ts = time.Now()
	}
	return influxdb2.NewPoint(route.Table, tags, fields, ts), nil
}

func observe(operation string, start time.Time, err *error) {
	var opErr error
	if err != nil {
		opErr = *err
	}
	monitoring.ObserveStoreOperation(string(stores.Analytics), operation, opErr, time.Since(start))
}
