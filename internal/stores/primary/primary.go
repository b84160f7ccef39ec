package primary

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/tandem/internal/models"
	"github.com/charlesng35/tandem/internal/monitoring"
	"github.com/charlesng35/tandem/internal/stores"
	"github.com/charlesng35/tandem/pkg/logger"
)

const scanBatchSize = 500

// ListScope builds the base query for an entity's reads. Filters are applied on top with
// table-qualified columns.
type ListScope func(db *gorm.DB, route stores.Route, filter stores.Filter) *gorm.DB

// Option customises the primary store.
type Option func(*Store)

// WithListScope registers a custom read query for an entity.
func WithListScope(entity string, scope ListScope) Option {
	return func(s *Store) {
		if scope != nil {
			s.scopes[entity] = scope
		}
	}
}

// Store is the relational system of record backed by gorm.
type Store struct {
	db     *gorm.DB
	scopes map[string]ListScope
	log    *zap.Logger
}

var (
	_ stores.Reader            = (*Store)(nil)
	_ stores.Writer            = (*Store)(nil)
	_ stores.Enumerator        = (*Store)(nil)
	_ stores.Counter           = (*Store)(nil)
	_ stores.ConditionalWriter = (*Store)(nil)
)

// New wraps a gorm handle.
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		scopes: make(map[string]ListScope),
		log:    logger.WithStore("stores", string(stores.Primary)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB exposes the underlying handle for migrations and tests.
func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Name() stores.Name {
	return stores.Primary
}

// Ping checks the connection pool.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Read loads one record by id.
func (s *Store) Read(ctx context.Context, route stores.Route, id string, dest models.Entity) (err error) {
	defer observe("read", time.Now(), &err)

	q := s.base(ctx, route, stores.Filter{}).Where(column(route, "id")+" = ?", id)
	err = translate(q.Take(dest).Error)
	return err
}

// List loads the records matching filter into dest, a pointer to a slice.
func (s *Store) List(ctx context.Context, route stores.Route, filter stores.Filter, dest any) (err error) {
	defer observe("list", time.Now(), &err)

	if err = filter.Validate(); err != nil {
		return err
	}
	field, desc, _ := filter.Order()

	q := applyFilter(s.base(ctx, route, filter), route, filter)
	q = q.Order(clause.OrderByColumn{Column: clause.Column{Table: route.Table, Name: field}, Desc: desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Table: route.Table, Name: "id"}, Desc: desc})
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	err = translate(q.Find(dest).Error)
	return err
}

// Count counts the records matching filter.
func (s *Store) Count(ctx context.Context, route stores.Route, filter stores.Filter) (count int64, err error) {
	defer observe("count", time.Now(), &err)

	if err = filter.Validate(); err != nil {
		return 0, err
	}
	q := applyFilter(s.db.WithContext(ctx).Table(route.Table), route, filter)
	err = translate(q.Count(&count).Error)
	return count, err
}

// Insert creates a record. Unique collisions surface as stores.ErrConflict.
func (s *Store) Insert(ctx context.Context, route stores.Route, entity models.Entity) (err error) {
	defer observe("insert", time.Now(), &err)

	err = translate(s.db.WithContext(ctx).Table(route.Table).Create(entity).Error)
	return err
}

// Update replaces every writable column of an existing record.
func (s *Store) Update(ctx context.Context, route stores.Route, entity models.Entity) (err error) {
	defer observe("update", time.Now(), &err)

	values, err := s.columnValues(ctx, entity)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Table(route.Table).Where("id = ?", entity.EntityKey()).Updates(values)
	if res.Error != nil {
		err = translate(res.Error)
		return err
	}
	if res.RowsAffected == 0 {
		err = stores.ErrNotFound
	}
	return err
}

// UpdateIf applies values only while cond holds and reports how many rows changed.
func (s *Store) UpdateIf(ctx context.Context, route stores.Route, id string, cond stores.Condition, values map[string]any) (affected int64, err error) {
	defer observe("update_if", time.Now(), &err)

	q := s.db.WithContext(ctx).Table(route.Table).Where("id = ?", id)
	for _, col := range sortedKeys(cond.Equals) {
		if !stores.ValidField(col) {
			return 0, fmt.Errorf("%w: field %q", stores.ErrInvalidFilter, col)
		}
		q = q.Where(clause.Eq{Column: clause.Column{Name: col}, Value: cond.Equals[col]})
	}
	for _, col := range cond.IsNull {
		if !stores.ValidField(col) {
			return 0, fmt.Errorf("%w: field %q", stores.ErrInvalidFilter, col)
		}
		q = q.Where(clause.Eq{Column: clause.Column{Name: col}, Value: nil})
	}
	for _, col := range cond.NotNull {
		if !stores.ValidField(col) {
			return 0, fmt.Errorf("%w: field %q", stores.ErrInvalidFilter, col)
		}
		q = q.Where(clause.Neq{Column: clause.Column{Name: col}, Value: nil})
	}
	for _, col := range sortedKeys(cond.After) {
		if !stores.ValidField(col) {
			return 0, fmt.Errorf("%w: field %q", stores.ErrInvalidFilter, col)
		}
		q = q.Where(clause.Gt{Column: clause.Column{Name: col}, Value: cond.After[col]})
	}
	for col := range values {
		if !stores.ValidField(col) {
			return 0, fmt.Errorf("%w: field %q", stores.ErrInvalidPatch, col)
		}
	}

	res := q.Updates(values)
	if res.Error != nil {
		err = translate(res.Error)
		return 0, err
	}
	return res.RowsAffected, nil
}

// Delete removes a record, failing with stores.ErrNotFound when it is absent.
func (s *Store) Delete(ctx context.Context, route stores.Route, id string) (err error) {
	defer observe("delete", time.Now(), &err)

	res := s.db.WithContext(ctx).Exec("DELETE FROM ? WHERE id = ?", clause.Table{Name: route.Table}, id)
	if res.Error != nil {
		err = translate(res.Error)
		return err
	}
	if res.RowsAffected == 0 {
		err = stores.ErrNotFound
	}
	return err
}

// Scan walks every record of the route in id order, in batches so no connection is held
// while fn runs.
func (s *Store) Scan(ctx context.Context, route stores.Route, newEntity func() models.Entity, fn func(models.Entity) error) (err error) {
	defer observe("scan", time.Now(), &err)

	last := ""
	for {
		batch, err := s.scanBatch(ctx, route, last, newEntity)
		if err != nil {
			return err
		}
		for _, entity := range batch {
			if err := fn(entity); err != nil {
				return err
			}
			last = entity.EntityKey()
		}
		if len(batch) < scanBatchSize {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func (s *Store) scanBatch(ctx context.Context, route stores.Route, after string, newEntity func() models.Entity) ([]models.Entity, error) {
	rows, err := s.db.WithContext(ctx).Table(route.Table).
		Where("id > ?", after).
		Order("id").
		Limit(scanBatchSize).
		Rows()
	if err != nil {
		return nil, translate(err)
	}
	defer rows.Close()

	batch := make([]models.Entity, 0, scanBatchSize)
	for rows.Next() {
		entity := newEntity()
		if err := s.db.ScanRows(rows, entity); err != nil {
			return nil, err
		}
		batch = append(batch, entity)
	}
	return batch, rows.Err()
}

func (s *Store) base(ctx context.Context, route stores.Route, filter stores.Filter) *gorm.DB {
	db := s.db.WithContext(ctx)
	if scope, ok := s.scopes[route.Entity]; ok {
		return scope(db, route, filter)
	}
	return db.Table(route.Table)
}

// columnValues maps every writable column of entity to its current value.
func (s *Store) columnValues(ctx context.Context, entity models.Entity) (map[string]any, error) {
	stmt := &gorm.Statement{DB: s.db}
	if err := stmt.Parse(entity); err != nil {
		return nil, err
	}
	rv := reflect.Indirect(reflect.ValueOf(entity))
	values := make(map[string]any, len(stmt.Schema.Fields))
	for _, field := range stmt.Schema.Fields {
		if field.DBName == "" || field.PrimaryKey || !field.Updatable {
			continue
		}
		value, _ := field.ValueOf(ctx, rv)
		values[field.DBName] = value
	}
	if len(values) == 0 {
		return nil, stores.ErrInvalidPatch
	}
	return values, nil
}

func applyFilter(q *gorm.DB, route stores.Route, filter stores.Filter) *gorm.DB {
	for _, key := range sortedKeys(filter.Where) {
		q = q.Where(clause.Eq{Column: clause.Column{Table: route.Table, Name: key}, Value: filter.Where[key]})
	}
	for _, key := range sortedTimeKeys(filter.Before) {
		q = q.Where(clause.Lt{Column: clause.Column{Table: route.Table, Name: key}, Value: filter.Before[key]})
	}
	if filter.Region != "" {
		q = q.Where(clause.Eq{Column: clause.Column{Table: route.Table, Name: "region"}, Value: filter.Region})
	}
	return q
}

func column(route stores.Route, name string) string {
	return route.Table + "." + name
}

func sortedKeys(values map[string]any) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedTimeKeys(values map[string]time.Time) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return stores.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), isUniqueViolation(err):
		return fmt.Errorf("%w: %v", stores.ErrConflict, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate")
}

func observe(operation string, start time.Time, err *error) {
	var opErr error
	if err != nil && !errors.Is(*err, stores.ErrNotFound) {
		opErr = *err
	}
	monitoring.ObserveStoreOperation(string(stores.Primary), operation, opErr, time.Since(start))
}
