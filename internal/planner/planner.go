// Package planner turns a model query (filters, eager-load paths, ordering
// and pagination) into one parameterized SQL statement. It resolves relation
// paths into aliased LEFT JOINs, translates filter trees into conditions on
// those aliases, and describes the projected columns so rows can be hydrated
// back into objects.
package planner

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}
