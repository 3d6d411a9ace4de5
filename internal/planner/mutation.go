package planner

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"relorm/internal/model"
	"relorm/internal/sqlutil"
)

// PlanInsert builds SQL for inserting a single row with the provided fields.
func PlanInsert(m *model.Model, fields []*model.Field, values []interface{}) (SQLQuery, error) {
	if len(fields) != len(values) {
		return SQLQuery{}, fmt.Errorf("insert into %s: %d fields but %d values", m.Name, len(fields), len(values))
	}
	if len(fields) == 0 {
		query := fmt.Sprintf("INSERT INTO %s () VALUES ()", sqlutil.QuoteIdentifier(m.Table))
		return SQLQuery{SQL: query, Args: nil}, nil
	}

	quotedCols := make([]string, len(fields))
	for i, f := range fields {
		quotedCols[i] = sqlutil.QuoteIdentifier(f.Column)
	}

	query, args, err := sq.Insert(sqlutil.QuoteIdentifier(m.Table)).
		Columns(quotedCols...).
		Values(values...).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanUpdate builds SQL for updating the given fields of rows by primary key.
// A single key renders as equality, several as IN.
func PlanUpdate(m *model.Model, fields []*model.Field, values []interface{}, pks ...interface{}) (SQLQuery, error) {
	if len(fields) == 0 {
		return SQLQuery{}, fmt.Errorf("update set cannot be empty")
	}
	if len(fields) != len(values) {
		return SQLQuery{}, fmt.Errorf("update %s: %d fields but %d values", m.Name, len(fields), len(values))
	}
	if len(pks) == 0 {
		return SQLQuery{}, fmt.Errorf("update %s requires at least one primary key", m.Name)
	}

	update := sq.Update(sqlutil.QuoteIdentifier(m.Table))
	for i, f := range fields {
		update = update.Set(sqlutil.QuoteIdentifier(f.Column), values[i])
	}
	update = update.Where(pkCondition(m, pks))

	query, args, err := update.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanDelete builds SQL for deleting rows by primary key.
func PlanDelete(m *model.Model, pks ...interface{}) (SQLQuery, error) {
	if len(pks) == 0 {
		return SQLQuery{}, fmt.Errorf("delete from %s requires at least one primary key", m.Name)
	}
	query, args, err := sq.Delete(sqlutil.QuoteIdentifier(m.Table)).
		Where(pkCondition(m, pks)).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanDeleteAll builds SQL for deleting every row of a table.
func PlanDeleteAll(m *model.Model) SQLQuery {
	return SQLQuery{SQL: "DELETE FROM " + sqlutil.QuoteIdentifier(m.Table)}
}

// PlanDeleteWhere builds SQL for deleting rows whose field equals value,
// used to unlink many-to-many rows.
func PlanDeleteWhere(m *model.Model, eq map[*model.Field]interface{}) (SQLQuery, error) {
	if len(eq) == 0 {
		return SQLQuery{}, fmt.Errorf("delete from %s requires a condition", m.Name)
	}
	where := sq.Eq{}
	for f, v := range eq {
		where[sqlutil.QuoteIdentifier(f.Column)] = v
	}
	query, args, err := sq.Delete(sqlutil.QuoteIdentifier(m.Table)).
		Where(where).
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func pkCondition(m *model.Model, pks []interface{}) sq.Sqlizer {
	col := sqlutil.QuoteIdentifier(m.PrimaryKey().Column)
	if len(pks) == 1 {
		return sq.Eq{col: pks[0]}
	}
	return sq.Eq{col: pks}
}
