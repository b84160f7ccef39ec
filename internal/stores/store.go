package stores

import (
	"context"
	"errors"

	"github.com/charlesng35/tandem/internal/models"
)

// Name identifies a backing store.
type Name string

const (
	Primary   Name = "primary"
	Realtime  Name = "realtime"
	Analytics Name = "analytics"
	Backup    Name = "backup"
)

var (
	// ErrNotFound is returned when the addressed record does not exist in the store.
	ErrNotFound = errors.New("stores: record not found")
	// ErrConflict is returned when a write collides with an existing record.
	ErrConflict = errors.New("stores: record conflicts with existing data")
	// ErrInvalidPatch is returned when an update names fields the entity does not have.
	ErrInvalidPatch = errors.New("stores: invalid patch")
	// ErrInvalidFilter is returned for filters with unsafe or unknown fields.
	ErrInvalidFilter = errors.New("stores: invalid filter")
	// ErrUnsupported is returned when a store lacks the capability a route requires.
	ErrUnsupported = errors.New("stores: operation not supported by store")
	// ErrUnknownEntity is returned when no route exists for an entity.
	ErrUnknownEntity = errors.New("stores: unknown entity")
	// ErrNotRegistered is returned when a route names a store that was never registered.
	ErrNotRegistered = errors.New("stores: store not registered")
)

// Store is the minimal surface every backing store exposes.
type Store interface {
	Name() Name
	// Ping performs a no-op round trip used by health probing.
	Ping(ctx context.Context) error
}

// Reader loads records. dest for List is a pointer to a slice of the route's entity type.
type Reader interface {
	Store
	Read(ctx context.Context, route Route, id string, dest models.Entity) error
	List(ctx context.Context, route Route, filter Filter, dest any) error
}

// Writer is implemented by stores that can own an entity.
type Writer interface {
	Store
	Insert(ctx context.Context, route Route, entity models.Entity) error
	// Update replaces an existing record and fails with ErrNotFound when it is absent.
	Update(ctx context.Context, route Route, entity models.Entity) error
	Delete(ctx context.Context, route Route, id string) error
}

// Upserter is implemented by stores that can hold mirror copies.
type Upserter interface {
	Store
	Upsert(ctx context.Context, route Route, entity models.Entity) error
	// Remove deletes a mirror copy. Removing an absent record is not an error.
	Remove(ctx context.Context, route Route, id string) error
}

// Enumerator streams every record of a route in key order.
type Enumerator interface {
	Store
	Scan(ctx context.Context, route Route, newEntity func() models.Entity, fn func(models.Entity) error) error
}

// Counter counts records matching a filter.
type Counter interface {
	Store
	Count(ctx context.Context, route Route, filter Filter) (int64, error)
}

// Condition guards a conditional update.
type Condition struct {
	// Equals requires column = value for each entry.
	Equals map[string]any
	// IsNull lists columns that must still be NULL.
	IsNull []string
	// NotNull lists columns that must already be set.
	NotNull []string
	// After requires column > value for each entry.
	After map[string]any
}

// ConditionalWriter applies an update only when the guard still holds, reporting rows changed.
type ConditionalWriter interface {
	Store
	UpdateIf(ctx context.Context, route Route, id string, cond Condition, values map[string]any) (int64, error)
}

// Snapshotter persists point-in-time copies of a table.
type Snapshotter interface {
	Store
	// WriteSnapshot stores payload unless it matches the latest snapshot of the table.
	WriteSnapshot(ctx context.Context, table string, payload []byte) (bool, error)
	Snapshots(ctx context.Context, table string) ([]string, error)
}
