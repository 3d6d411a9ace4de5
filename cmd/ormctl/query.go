package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"

	"relorm/internal/filter"
	"relorm/internal/planner"
	"relorm/internal/queryset"
)

// request is one query described on the command line.
type request struct {
	Model         string
	Filters       []string
	Excludes      []string
	SelectRelated []string
	OrderBy       []string
	Limit         int
	Offset        int
	Explain       bool
	Count         bool
}

func defineQueryFlags(fs *pflag.FlagSet, req *request) {
	fs.StringVarP(&req.Model, "model", "m", "", "Model to query")
	fs.StringArrayVarP(&req.Filters, "filter", "f", nil, "Filter as key=value, e.g. blog__name__icontains=go (repeatable)")
	fs.StringArrayVarP(&req.Excludes, "exclude", "x", nil, "Exclusion as key=value (repeatable, combined with AND)")
	fs.StringSliceVarP(&req.SelectRelated, "select-related", "r", nil, "Relation paths to load eagerly")
	fs.StringSliceVarP(&req.OrderBy, "order-by", "o", nil, "Ordering keys; prefix with - for descending")
	fs.IntVar(&req.Limit, "limit", -1, "Maximum number of objects")
	fs.IntVar(&req.Offset, "offset", 0, "Objects to skip")
	fs.BoolVar(&req.Explain, "explain", false, "Print the planned SQL without connecting")
	fs.BoolVar(&req.Count, "count", false, "Print the number of matching objects")
}

// parseLookups turns key=value pairs into lookups. Values are strings except
// for __in (comma separated), __isnull (boolean) and the literal null.
func parseLookups(pairs []string) ([]filter.Node, error) {
	nodes := make([]filter.Node, 0, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid lookup %q, expected key=value", pair)
		}
		probe := filter.Q(key, nil)
		var value any = raw
		switch {
		case probe.Operator() == filter.OpIn:
			parts := strings.Split(raw, ",")
			values := make([]any, 0, len(parts))
			for _, p := range parts {
				values = append(values, strings.TrimSpace(p))
			}
			value = values
		case probe.Operator() == filter.OpIsNull:
			b, err := cast.ToBoolE(raw)
			if err != nil {
				return nil, fmt.Errorf("lookup %q: %w", key, err)
			}
			value = b
		case raw == "null":
			value = nil
		}
		nodes = append(nodes, filter.Q(key, value))
	}
	return nodes, nil
}

// build turns the request into a query set on client.
func (req request) build(client *queryset.Client, s schema) (queryset.QuerySet, error) {
	m, err := s.lookup(req.Model)
	if err != nil {
		return queryset.QuerySet{}, err
	}
	filters, err := parseLookups(req.Filters)
	if err != nil {
		return queryset.QuerySet{}, err
	}
	excludes, err := parseLookups(req.Excludes)
	if err != nil {
		return queryset.QuerySet{}, err
	}

	qs := client.Objects(m).Filter(filters...).Exclude(excludes...)
	if len(req.SelectRelated) > 0 {
		qs = qs.SelectRelated(req.SelectRelated...)
	}
	if len(req.OrderBy) > 0 {
		qs = qs.OrderBy(req.OrderBy...)
	}
	if req.Limit >= 0 {
		qs = qs.Limit(req.Limit)
	}
	if req.Offset > 0 {
		qs = qs.Offset(req.Offset)
	}
	return qs, nil
}

// explain writes the statement the query would run.
func explain(w io.Writer, qs queryset.QuerySet, count bool) error {
	if count {
		q, err := planner.BuildCount(qs.Query())
		if err != nil {
			return err
		}
		return writeStatement(w, q)
	}
	plan, err := qs.Plan()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, plan.Explain()); err != nil {
		return err
	}
	return writeStatement(w, plan.SQLQuery)
}

func writeStatement(w io.Writer, q planner.SQLQuery) error {
	_, err := fmt.Fprintf(w, "%s\nargs: %v\n", q.SQL, q.Args)
	return err
}

// execute runs the query and writes the result as JSON.
func execute(ctx context.Context, w io.Writer, qs queryset.QuerySet, count bool, indent bool) error {
	var out any
	if count {
		n, err := qs.Count(ctx)
		if err != nil {
			return err
		}
		out = map[string]int64{"count": n}
	} else {
		objects, err := qs.All(ctx)
		if err != nil {
			return err
		}
		out = objects
	}

	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(out)
}
