// Package loader provides utilities to load entity kinds from Go source files.
package loader

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/marshallshelly/pebble-integrity/pkg/schema"
)

// Registrar accepts entity metadata built without a Go type.
type Registrar interface {
	RegisterMetadata(entity *schema.EntityMetadata) error
}

// LoadModelsFromPath scans a file or directory for Go structs with po tags
// and registers them using the provided registrar.
// Supports:
// - Single .go file
// - Directory (scans all .go files recursively, skipping tests)
// - Kind names from a TableName method or a // table_name: comment
func LoadModelsFromPath(path string, registrar Registrar) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat path: %w", err)
	}

	var filesToParse []string

	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(d.Name(), ".go") && !strings.HasSuffix(d.Name(), "_test.go") {
				filesToParse = append(filesToParse, p)
			}
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to walk directory: %w", err)
		}
	} else {
		if !strings.HasSuffix(path, ".go") {
			return 0, fmt.Errorf("file must have .go extension")
		}
		filesToParse = append(filesToParse, path)
	}

	if len(filesToParse) == 0 {
		return 0, fmt.Errorf("no .go files found in %s", path)
	}

	fset := token.NewFileSet()
	files := make([]*ast.File, 0, len(filesToParse))
	for _, file := range filesToParse {
		node, err := parser.ParseFile(fset, file, nil, parser.ParseComments)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		files = append(files, node)
	}

	// TableName methods may live in a different file than the struct
	names := make(map[string]string)
	for _, node := range files {
		for structName, kind := range tableNameMethods(node) {
			names[structName] = kind
		}
	}

	registered := 0
	for i, node := range files {
		count, err := registerFile(node, names, registrar)
		registered += count
		if err != nil {
			return registered, fmt.Errorf("failed to load models from %s: %w", filesToParse[i], err)
		}
	}
	return registered, nil
}

// registerFile registers every po-tagged struct declared in node.
func registerFile(node *ast.File, names map[string]string, registrar Registrar) (int, error) {
	registered := 0

	for _, decl := range node.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}

		for _, spec := range genDecl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			structType, ok := typeSpec.Type.(*ast.StructType)
			if !ok || !hasPebbleTags(structType) {
				continue
			}

			structName := typeSpec.Name.Name
			kind := schema.ToSnakeCase(structName)
			if name := tableNameFromComments(genDecl.Doc, typeSpec.Doc); name != "" {
				kind = name
			}
			if name, ok := names[structName]; ok {
				kind = name
			}

			entity, err := buildEntityFromAST(kind, structName, structType)
			if err != nil {
				return registered, fmt.Errorf("%s: %w", structName, err)
			}
			if err := registrar.RegisterMetadata(entity); err != nil {
				return registered, fmt.Errorf("failed to register %s: %w", structName, err)
			}
			registered++
		}
	}

	return registered, nil
}

// buildEntityFromAST creates EntityMetadata from a struct declaration.
// Field types come from the SQL type in the tag, falling back to the Go type name.
func buildEntityFromAST(kind, structName string, structType *ast.StructType) (*schema.EntityMetadata, error) {
	entity := &schema.EntityMetadata{
		Name:        kind,
		StructName:  structName,
		Fields:      make([]schema.FieldMetadata, 0),
		ForeignKeys: make([]schema.ForeignKeyMetadata, 0),
	}

	position := 0
	for _, field := range structType.Fields.List {
		if len(field.Names) == 0 || field.Tag == nil {
			continue // embedded or untagged
		}
		raw, err := strconv.Unquote(field.Tag.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid tag %s: %w", field.Tag.Value, err)
		}
		tagValue := reflect.StructTag(raw).Get(schema.StructTagKey)
		if tagValue == "" || tagValue == "-" {
			continue
		}

		for _, fieldName := range field.Names {
			if !fieldName.IsExported() {
				continue
			}
			opts, err := schema.ParseTag(tagValue)
			if err != nil {
				return nil, fmt.Errorf("failed to parse tag for field %s: %w", fieldName.Name, err)
			}

			if schema.IsRelationshipTag(opts) {
				rel, err := schema.BuildRelationshipFor(entity, fieldName.Name, targetStructName(field.Type), opts)
				if err != nil {
					return nil, fmt.Errorf("failed to parse relationship for field %s: %w", fieldName.Name, err)
				}
				entity.Relationships = append(entity.Relationships, *rel)
				continue
			}

			if opts.GetSQLType() == "" {
				if inferred := fieldTypeFromAST(field.Type); inferred != "" {
					opts.Options[string(inferred)] = ""
				}
			}
			if err := schema.AddField(entity, fieldName.Name, nil, opts, position, nil); err != nil {
				return nil, err
			}
			position++
		}
	}

	if len(entity.PrimaryKey) == 0 {
		return nil, fmt.Errorf("entity %s has no primary key", kind)
	}
	return entity, nil
}

// fieldTypeFromAST maps the Go type of a column field to a field type.
func fieldTypeFromAST(expr ast.Expr) schema.FieldType {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return fieldTypeFromAST(t.X)
	case *ast.Ident:
		switch t.Name {
		case "int", "int8", "int16", "int32", "int64", "uint8", "uint16", "uint32":
			return schema.IntegerType
		case "string":
			return schema.TextType
		}
	case *ast.SelectorExpr:
		if pkg, ok := t.X.(*ast.Ident); ok && pkg.Name == "sql" {
			switch t.Sel.Name {
			case "NullInt64", "NullInt32", "NullInt16":
				return schema.IntegerType
			case "NullString":
				return schema.TextType
			}
		}
	}
	return ""
}

// targetStructName strips slices and pointers from a relationship field type.
func targetStructName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return targetStructName(t.X)
	case *ast.ArrayType:
		return targetStructName(t.Elt)
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	}
	return ""
}

// tableNameMethods finds `func (T) TableName() string { return "name" }` declarations.
func tableNameMethods(node *ast.File) map[string]string {
	out := make(map[string]string)
	for _, decl := range node.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Name.Name != "TableName" || fn.Recv == nil || len(fn.Recv.List) != 1 || fn.Body == nil {
			continue
		}
		recv := targetStructName(fn.Recv.List[0].Type)
		if recv == "" || len(fn.Body.List) != 1 {
			continue
		}
		ret, ok := fn.Body.List[0].(*ast.ReturnStmt)
		if !ok || len(ret.Results) != 1 {
			continue
		}
		lit, ok := ret.Results[0].(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			continue
		}
		if name, err := strconv.Unquote(lit.Value); err == nil && name != "" {
			out[recv] = name
		}
	}
	return out
}

// tableNameFromComments reads a "// table_name: name" directive.
func tableNameFromComments(groups ...*ast.CommentGroup) string {
	for _, group := range groups {
		if group == nil {
			continue
		}
		for _, comment := range group.List {
			text := strings.TrimSpace(strings.TrimPrefix(comment.Text, "//"))
			if name, ok := strings.CutPrefix(text, "table_name:"); ok {
				return strings.TrimSpace(name)
			}
		}
	}
	return ""
}

// hasPebbleTags checks if a struct has any fields with po tags
func hasPebbleTags(structType *ast.StructType) bool {
	if structType.Fields == nil {
		return false
	}

	for _, field := range structType.Fields.List {
		if field.Tag != nil && strings.Contains(field.Tag.Value, schema.StructTagKey+":") {
			return true
		}
	}

	return false
}
