package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/marshallshelly/pebble-integrity/cmd/pebble/output"
	"github.com/marshallshelly/pebble-integrity/pkg/registry"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

// parseAssignments turns field=value arguments into fields of kind.
// Unknown field names are passed through so the engine reports them.
func parseAssignments(reg *registry.Registry, kind string, args []string) (store.Fields, error) {
	meta, err := reg.Entity(kind)
	if err != nil {
		return nil, err
	}
	fields := make(store.Fields, len(args))
	for _, arg := range args {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		field, ok := meta.Field(name)
		if !ok {
			fields[name] = raw
			continue
		}
		value, err := parseValue(field, raw)
		if err != nil {
			return nil, err
		}
		fields[name] = value
	}
	return fields, nil
}

func parseValue(field *schema.FieldMetadata, raw string) (any, error) {
	if raw == "null" {
		return nil, nil
	}
	if field.Type == schema.IntegerType {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not an integer", field.Name, raw)
		}
		return n, nil
	}
	return raw, nil
}

// printRecords writes records as a table with one column per field.
func printRecords(reg *registry.Registry, kind string, records []store.Record) error {
	if jsonOutput {
		if records == nil {
			records = []store.Record{}
		}
		return output.JSON(records)
	}
	if len(records) == 0 {
		output.Warning("No %s records", kind)
		return nil
	}
	meta, err := reg.Entity(kind)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	header := []string{"KEY"}
	for _, f := range meta.Fields {
		header = append(header, strings.ToUpper(f.Name))
	}
	header = append(header, "VERSION")
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, rec := range records {
		row := []string{string(rec.Key)}
		for _, f := range meta.Fields {
			row = append(row, formatValue(rec.Fields[f.Name]))
		}
		row = append(row, strconv.FormatInt(rec.Version, 10))
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprint(v)
}
