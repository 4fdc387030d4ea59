package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/pebble-integrity/cmd/pebble/output"
	"github.com/marshallshelly/pebble-integrity/pkg/integrity"
	"github.com/marshallshelly/pebble-integrity/pkg/store"
)

var (
	expectVersion int64
	scanWhere     []string
)

var insertCmd = &cobra.Command{
	Use:   "insert <kind> field=value...",
	Short: "Insert a record",
	Long: `Insert a record after checking its references and cardinality.

Values are parsed by field type; "null" clears a nullable field.

Examples:
  pebble insert users full_name="Ada Lovelace" score=10
  pebble insert posts author_id=1 text="Notes on the engine"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			fields, err := parseAssignments(s.engine.Registry(), args[0], args[1:])
			if err != nil {
				return err
			}
			rec, err := s.engine.Insert(ctx, args[0], fields)
			if err != nil {
				return err
			}
			return report(s, "Inserted", rec)
		})
	},
}

var getCmd = &cobra.Command{
	Use:   "get <kind> <key>",
	Short: "Show one record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			rec, err := s.engine.Get(ctx, args[0], store.Key(args[1]))
			if err != nil {
				return err
			}
			return printRecords(s.engine.Registry(), args[0], []store.Record{rec})
		})
	},
}

var updateCmd = &cobra.Command{
	Use:   "update <kind> <key> field=value...",
	Short: "Update fields of a record",
	Long: `Update fields of a record. Changed foreign keys are checked again.

Examples:
  pebble update posts 3 text="Revised"
  pebble update posts 3 author_id=2 --expect-version 1`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			fields, err := parseAssignments(s.engine.Registry(), args[0], args[2:])
			if err != nil {
				return err
			}
			rec, err := s.engine.Update(ctx, args[0], store.Key(args[1]), fields, writeOptions()...)
			if err != nil {
				return err
			}
			return report(s, "Updated", rec)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <kind> <key>",
	Short: "Delete a record and apply delete policies",
	Long: `Delete a record. Dependents are cascaded or nulled per relationship,
and the delete is refused while a restricting dependent exists.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			before := s.engine.Stats()
			rec, err := s.engine.Delete(ctx, args[0], store.Key(args[1]), writeOptions()...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(rec)
			}
			output.Success("Deleted %s %s", rec.Kind, rec.Key)
			after := s.engine.Stats()
			for _, kind := range s.engine.Registry().Kinds() {
				if kind == rec.Kind {
					continue
				}
				if n := before[kind] - after[kind]; n > 0 {
					output.Info("Cascaded %d %s", n, kind)
				}
			}
			return nil
		})
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <kind>",
	Short: "List records of a kind in insertion order",
	Long: `List records of a kind in insertion order.

Examples:
  pebble scan posts
  pebble scan posts --where author_id=1
  pebble scan users --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(ctx context.Context, s *session) error {
			filter, err := parseAssignments(s.engine.Registry(), args[0], scanWhere)
			if err != nil {
				return err
			}
			seq, err := s.engine.Scan(ctx, args[0], matching(filter))
			if err != nil {
				return err
			}
			var records []store.Record
			for rec := range seq {
				records = append(records, rec)
			}
			return printRecords(s.engine.Registry(), args[0], records)
		})
	},
}

func init() {
	rootCmd.AddCommand(insertCmd, getCmd, updateCmd, deleteCmd, scanCmd)

	for _, cmd := range []*cobra.Command{updateCmd, deleteCmd} {
		cmd.Flags().Int64Var(&expectVersion, "expect-version", 0, "Fail unless the record is at this version")
	}
	scanCmd.Flags().StringArrayVarP(&scanWhere, "where", "w", nil, "Only records whose field equals value (field=value, repeatable)")
}

func writeOptions() []integrity.WriteOption {
	if expectVersion > 0 {
		return []integrity.WriteOption{integrity.ExpectVersion(expectVersion)}
	}
	return nil
}

func report(s *session, verb string, rec store.Record) error {
	if jsonOutput {
		return output.JSON(rec)
	}
	output.Success("%s %s %s (version %d)", verb, rec.Kind, rec.Key, rec.Version)
	return printRecords(s.engine.Registry(), rec.Kind, []store.Record{rec})
}

// matching returns a predicate that keeps records equal to filter on every field.
func matching(filter store.Fields) func(store.Record) bool {
	if len(filter) == 0 {
		return nil
	}
	return func(rec store.Record) bool {
		for name, want := range filter {
			if fmt.Sprint(rec.Fields[name]) != fmt.Sprint(want) {
				return false
			}
		}
		return true
	}
}
