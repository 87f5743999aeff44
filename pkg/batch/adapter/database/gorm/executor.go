package gorm

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TableNamer represents a struct that has a TableName() string method.
type TableNamer interface {
	TableName() string
}

// applyTableName scopes db to the table of model, or of its slice element type.
func applyTableName(db *gorm.DB, model interface{}) *gorm.DB {
	if namer, ok := model.(TableNamer); ok {
		return db.Table(namer.TableName())
	}
	t := reflect.TypeOf(model)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t != nil && (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) {
		elem := t.Elem()
		if elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}
		if namer, ok := reflect.New(elem).Interface().(TableNamer); ok {
			return db.Table(namer.TableName())
		}
	}
	return db.Model(model)
}

// executor implements the shared read and write operations on top of a *gorm.DB,
// which is either a connection pool or an open transaction.
type executor struct {
	db *gorm.DB
}

func (e executor) ExecuteQuery(ctx context.Context, target interface{}, query map[string]interface{}) error {
	return e.ExecuteQueryAdvanced(ctx, target, query, "", 0)
}

func (e executor) ExecuteQueryAdvanced(ctx context.Context, target interface{}, query map[string]interface{}, orderBy string, limit int) error {
	db := applyTableName(e.db.WithContext(ctx), target)
	if len(query) > 0 {
		db = db.Where(query)
	}
	if orderBy != "" {
		db = db.Order(orderBy)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	// Find does not return ErrRecordNotFound; callers check the result length.
	return db.Find(target).Error
}

func (e executor) Count(ctx context.Context, model interface{}, query map[string]interface{}) (int64, error) {
	db := applyTableName(e.db.WithContext(ctx), model)
	if len(query) > 0 {
		db = db.Where(query)
	}
	var count int64
	if err := db.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (e executor) ExecuteUpdate(ctx context.Context, model interface{}, operation string, tableName string, query map[string]interface{}) (int64, error) {
	db := e.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	if tableName != "" {
		db = db.Table(tableName)
	}

	var result *gorm.DB
	switch operation {
	case "CREATE":
		result = db.Create(model)
	case "UPDATE":
		// Model supplies the primary key condition; query adds e.g. the expected version.
		result = db.Model(model).Where(query).Updates(model)
	case "DELETE":
		if len(query) > 0 {
			db = db.Where(query)
		}
		result = db.Delete(model)
	default:
		return 0, fmt.Errorf("unsupported update operation: %s", operation)
	}
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (e executor) ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (int64, error) {
	db := e.db.WithContext(ctx).Session(&gorm.Session{SkipDefaultTransaction: true})
	if tableName != "" {
		db = db.Table(tableName)
	}

	columns := make([]clause.Column, 0, len(conflictColumns))
	for _, col := range conflictColumns {
		columns = append(columns, clause.Column{Name: col})
	}
	onConflict := clause.OnConflict{Columns: columns}
	if len(updateColumns) > 0 {
		onConflict.DoUpdates = clause.AssignmentColumns(updateColumns)
	} else {
		onConflict.DoNothing = true
	}

	result := db.Clauses(onConflict).Create(model)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
