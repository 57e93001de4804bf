package repo

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"learnhub/internal/domain"
	"learnhub/internal/infra/metrics"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// buildRPCQuery собирает вызов функции с именованными аргументами в стабильном порядке.
func buildRPCQuery(fn string, args map[string]any) (string, []any, error) {
	if !identRe.MatchString(fn) {
		return "", nil, fmt.Errorf("имя функции %q: %w", fn, domain.ErrInvalidArgument)
	}
	names := make([]string, 0, len(args))
	for name := range args {
		if !identRe.MatchString(name) {
			return "", nil, fmt.Errorf("аргумент %q: %w", name, domain.ErrInvalidArgument)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]string, 0, len(names))
	values := make([]any, 0, len(names))
	for i, name := range names {
		params = append(params, fmt.Sprintf("%s => $%d", name, i+1))
		values = append(values, args[name])
	}
	return fmt.Sprintf("SELECT * FROM %s(%s)", fn, strings.Join(params, ", ")), values, nil
}

// Call вызывает серверную функцию и возвращает строки результата по именам колонок.
func (p *Postgres) Call(ctx context.Context, fn string, args map[string]any) ([]map[string]any, error) {
	query, values, err := buildRPCQuery(fn, args)
	if err != nil {
		return nil, err
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, values...)
	metrics.ObserveNetworkRequest("postgres", "rpc", fn, start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[f.Name] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rpc %s: %w", fn, err)
	}
	return out, nil
}
