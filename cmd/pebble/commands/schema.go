package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/marshallshelly/pebble-integrity/cmd/pebble/output"
	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

var schemaKind string

// schemaCmd prints the registered entity kinds
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Show entity kinds and their relationships",
	Long: `Show the frozen schema: fields, primary keys, foreign keys with their
delete policies, and relationships of every entity kind.

Examples:
  pebble schema                       # Summary of all kinds
  pebble schema --kind posts          # One kind in detail
  pebble schema --models ./library    # Kinds declared in Go source
  pebble schema --json                # Output in JSON format`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSchema()
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().StringVarP(&schemaKind, "kind", "k", "", "Specific kind to show")
}

// schemaView is the JSON form of one kind.
type schemaView struct {
	Kind          string                        `json:"kind"`
	PrimaryKey    []string                      `json:"primary_key"`
	Fields        []schema.FieldMetadata        `json:"fields"`
	ForeignKeys   []schema.ForeignKeyMetadata   `json:"foreign_keys,omitempty"`
	Relationships []schema.RelationshipMetadata `json:"relationships,omitempty"`
	DeleteClosure []string                      `json:"delete_closure"`
}

func runSchema() error {
	reg, err := loadRegistry()
	if err != nil {
		return err
	}

	kinds := reg.Kinds()
	if schemaKind != "" {
		kinds = []string{schemaKind}
	}

	views := make([]schemaView, 0, len(kinds))
	for _, kind := range kinds {
		meta, err := reg.Entity(kind)
		if err != nil {
			return err
		}
		views = append(views, schemaView{
			Kind:          meta.Name,
			PrimaryKey:    meta.PrimaryKey,
			Fields:        meta.Fields,
			ForeignKeys:   meta.ForeignKeys,
			Relationships: meta.Relationships,
			DeleteClosure: reg.DeleteClosure(kind),
		})
	}

	if jsonOutput {
		return output.JSON(views)
	}

	if schemaKind != "" {
		printKind(views[0])
		return nil
	}

	output.Section(fmt.Sprintf("Schema (%d kinds)", len(views)))
	for _, v := range views {
		fmt.Printf("Kind: %s\n", v.Kind)
		fmt.Printf("  Fields: %d\n", len(v.Fields))
		fmt.Printf("  Primary Key: %s\n", strings.Join(v.PrimaryKey, ", "))
		if len(v.ForeignKeys) > 0 {
			fmt.Printf("  Foreign Keys: %d\n", len(v.ForeignKeys))
		}
		if len(v.Relationships) > 0 {
			fmt.Printf("  Relationships: %d\n", len(v.Relationships))
		}
		fmt.Println()
	}
	return nil
}

func printKind(v schemaView) {
	fmt.Printf("Kind: %s\n", v.Kind)
	fmt.Println(strings.Repeat("=", len(v.Kind)+6))
	fmt.Println()

	fmt.Println("Fields:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tTYPE\tNULLABLE\tUNIQUE")
	_, _ = fmt.Fprintln(w, "----\t----\t--------\t------")
	for _, f := range v.Fields {
		typ := string(f.Type)
		if f.MaxLength > 0 {
			typ = fmt.Sprintf("%s(%d)", typ, f.MaxLength)
		}
		if f.AutoIncrement {
			typ += " serial"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, typ, yesNo(f.Nullable), yesNo(f.Unique))
	}
	_ = w.Flush()
	fmt.Println()

	fmt.Printf("Primary Key: (%s)\n\n", strings.Join(v.PrimaryKey, ", "))

	if len(v.ForeignKeys) > 0 {
		fmt.Println("Foreign Keys:")
		for _, fk := range v.ForeignKeys {
			fmt.Printf("  %s -> %s(%s)\n", fk.Column, fk.ReferencedEntity, fk.ReferencedColumn)
			fmt.Printf("    ON DELETE: %s\n", fk.OnDelete)
		}
		fmt.Println()
	}

	if len(v.Relationships) > 0 {
		fmt.Println("Relationships:")
		for _, rel := range v.Relationships {
			fmt.Printf("  %s: %s %s", rel.Name, rel.Type, rel.Target)
			if rel.Type == schema.ManyToMany {
				fmt.Printf(" via %s(%s, %s)", rel.JoinEntity, rel.JoinForeignKey, rel.JoinReferences)
			} else {
				fmt.Printf(" on %s", rel.ForeignKey)
			}
			fmt.Println()
		}
		fmt.Println()
	}

	output.Muted("Deleting %s also locks: %s", v.Kind, strings.Join(v.DeleteClosure, ", "))
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}
