package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/snitch/internal/propval"
	"github.com/roach88/snitch/internal/query"
	"github.com/roach88/snitch/internal/run"
	"github.com/roach88/snitch/internal/schema"
)

// jsonPrefix marks a filter value to be decoded as a JSON scalar.
const jsonPrefix = "json:"

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Filters  []string
	Orders   []string
	Time     string
	Page     int
	PageSize int
	Props    bool
}

// QueryResult is the JSON payload of the query command.
type QueryResult struct {
	Label string      `json:"label"`
	Time  int64       `json:"time"`
	Count int64       `json:"count"`
	Rows  []query.Row `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <label>",
		Short: "List entities of a type as they were at an instant",
		Long: `List every entity of <label> reachable from its root at an instant.

Filters take the form [Label.]property:operator:value, where Label is the
target or one of its ancestors and operator is one of = <> < <= > >=
CONTAINS STARTS WITH ENDS WITH. Values are strings unless prefixed with
"json:" (json:1024, json:true). Orders take [Label.]property[:asc|desc].
Times are milliseconds since the epoch or timestamps.

Example:
  snitch query Host --filter Environment.name:=:prod
  snitch query AptPackage --filter Host.hostname:=:web1 --time 2024-01-01T00:00:00
  snitch query Mount --filter size_total:>:json:1000000 --order size_total:desc`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Filters, "filter", "f", nil, "filter [Label.]prop:op:value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Orders, "order", "o", nil, "order [Label.]prop[:asc|desc] (repeatable)")
	cmd.Flags().StringVarP(&opts.Time, "time", "t", "", "instant to query (default now)")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "1-based page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "rows per page (0 for all)")
	cmd.Flags().BoolVar(&opts.Props, "props", false, "print target properties in text output")

	return cmd
}

func runQuery(opts *QueryOptions, label string, cmd *cobra.Command) error {
	a, err := openApp(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd, a.logger)
	defer cancel()
	defer a.Close(ctx)

	q, err := query.New(a.reg, a.backend, label)
	if err != nil {
		return schemaExit(a.out, "invalid query", err)
	}
	if opts.Time != "" {
		at, err := parseInstant(opts.Time)
		if err != nil {
			return fail(a.out, CodeInvalidArgs, "invalid --time", err)
		}
		q.Time(at)
	}
	for _, f := range opts.Filters {
		onType, prop, op, value, err := parseFilter(f)
		if err != nil {
			return fail(a.out, CodeInvalidArgs, "invalid --filter", err)
		}
		if err := q.Filter(prop, op, value, onType); err != nil {
			return schemaExit(a.out, "invalid --filter", err)
		}
	}
	for _, o := range opts.Orders {
		onType, prop, dir := parseOrder(o)
		if err := q.OrderBy(prop, dir, onType); err != nil {
			return schemaExit(a.out, "invalid --order", err)
		}
	}
	if opts.PageSize > 0 {
		q.Page(opts.Page, opts.PageSize)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return fail(a.out, CodeFailed, "query failed", err)
	}
	rows, err := q.Fetch(ctx)
	if err != nil {
		return fail(a.out, CodeFailed, "query failed", err)
	}
	if rows == nil {
		rows = []query.Row{}
	}

	res := QueryResult{Label: q.Target().Label, Time: q.At(), Count: count, Rows: rows}
	return a.out.Success(res, func(w io.Writer) {
		fmt.Fprintf(w, "%d %s at %d\n", count, res.Label, res.Time)
		for _, row := range rows {
			fmt.Fprintln(w, rowPath(a.reg, q.Labels(), row))
			if opts.Props {
				printProps(w, row[res.Label])
			}
		}
	})
}

// parseFilter splits [Label.]prop:op:value.
func parseFilter(s string) (onType, prop, op string, value any, err error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", "", nil, fmt.Errorf("%q: want [Label.]property:operator:value", s)
	}
	onType, prop = splitField(parts[0])
	value, err = parseValue(parts[2])
	if err != nil {
		return "", "", "", nil, fmt.Errorf("%q: %w", s, err)
	}
	return onType, prop, parts[1], value, nil
}

// parseOrder splits [Label.]prop[:dir].
func parseOrder(s string) (onType, prop, dir string) {
	field, dir, _ := strings.Cut(s, ":")
	onType, prop = splitField(field)
	return onType, prop, dir
}

func splitField(field string) (onType, prop string) {
	if label, p, ok := strings.Cut(field, "."); ok {
		return label, p
	}
	return "", field
}

func parseValue(raw string) (any, error) {
	rest, ok := strings.CutPrefix(raw, jsonPrefix)
	if !ok {
		return raw, nil
	}
	var v any
	dec := json.NewDecoder(strings.NewReader(rest))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode %q: %w", rest, err)
	}
	switch v.(type) {
	case json.Number, bool, string:
		return propval.Normalize(v)
	default:
		return nil, fmt.Errorf("%q is not a JSON scalar", rest)
	}
}

// parseInstant accepts milliseconds since the epoch or a timestamp.
func parseInstant(s string) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := run.ParseTime(s)
	if err != nil {
		return 0, fmt.Errorf("%q is neither milliseconds nor a timestamp", s)
	}
	return t.UnixMilli(), nil
}

// rowPath renders Label:identity for each label of the path.
func rowPath(reg *schema.Registry, labels []string, row query.Row) string {
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		t, _ := reg.Type(label)
		parts = append(parts, label+":"+propval.String(row[label][t.Identity]))
	}
	return strings.Join(parts, " > ")
}

func printProps(w io.Writer, props map[string]any) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "    %s=%s\n", k, propval.String(props[k]))
	}
}
