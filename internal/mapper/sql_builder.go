package mapper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoColumns is returned when nothing is left to write after filtering
var ErrNoColumns = errors.New("mapper: no columns to write")

// SQLBuilder turns column maps into PostgreSQL statements with $n placeholders.
// Only whitelisted tables and columns are accepted; identifiers never come from user input
type SQLBuilder struct {
	tables map[string]map[string]bool
}

// NewSQLBuilder registers the writable columns of every table
func NewSQLBuilder(tables map[string][]string) *SQLBuilder {
	b := &SQLBuilder{tables: make(map[string]map[string]bool, len(tables))}
	for table, cols := range tables {
		allowed := make(map[string]bool, len(cols))
		for _, c := range cols {
			allowed[strings.ToLower(c)] = true
		}
		b.tables[strings.ToLower(table)] = allowed
	}
	return b
}

// BuildInsert generates an INSERT statement; keys are sorted for deterministic SQL
func (b *SQLBuilder) BuildInsert(tableName string, data map[string]any) (string, []any, error) {
	keys, err := b.columns(tableName, "", data)
	if err != nil {
		return "", nil, err
	}

	columns := make([]string, 0, len(keys))
	placeholders := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))

	for i, k := range keys {
		columns = append(columns, strings.ToLower(k))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, data[k])
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		strings.ToLower(tableName),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	return query, args, nil
}

// BuildUpdate generates a partial UPDATE keyed by pkColumn. The key itself is never part of the SET clause
func (b *SQLBuilder) BuildUpdate(tableName string, pkColumn string, pkValue any, data map[string]any) (string, []any, error) {
	keys, err := b.columns(tableName, pkColumn, data)
	if err != nil {
		return "", nil, err
	}

	setClauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+1)

	for i, k := range keys {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", strings.ToLower(k), i+1))
		args = append(args, data[k])
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE %s = $%d",
		strings.ToLower(tableName),
		strings.Join(setClauses, ", "),
		strings.ToLower(pkColumn),
		len(keys)+1,
	)
	args = append(args, pkValue)

	return query, args, nil
}

func (b *SQLBuilder) columns(tableName, skip string, data map[string]any) ([]string, error) {
	allowed, ok := b.tables[strings.ToLower(tableName)]
	if !ok {
		return nil, fmt.Errorf("mapper: table %s is not whitelisted", tableName)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		col := strings.ToLower(k)
		if skip != "" && col == strings.ToLower(skip) {
			continue
		}
		if !allowed[col] {
			return nil, fmt.Errorf("mapper: column %s is not writable on %s", k, tableName)
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return nil, ErrNoColumns
	}
	sort.Slice(keys, func(i, j int) bool { return strings.ToLower(keys[i]) < strings.ToLower(keys[j]) })

	return keys, nil
}
