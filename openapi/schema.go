package openapi

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// schemaFor reflects a Go value into a schema reference. Named struct types
// register once under #/components/schemas and are referenced from then on;
// anonymous structs inline.
func (d *Document) schemaFor(example any) *openapi3.SchemaRef {
	d.mu.Lock()
	defer d.mu.Unlock()

	if example == nil {
		return objectSchema()
	}
	return d.refFromType(reflect.TypeOf(example), make(map[string]bool))
}

func objectSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}}
}

func typeKey(t reflect.Type) string {
	if t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

func (d *Document) refFromType(t reflect.Type, visiting map[string]bool) *openapi3.SchemaRef {
	switch t.Kind() {
	case reflect.Pointer:
		ref := d.refFromType(t.Elem(), visiting)
		if ref.Ref != "" {
			return &openapi3.SchemaRef{Value: &openapi3.Schema{
				AllOf:    openapi3.SchemaRefs{ref},
				Nullable: true,
			}}
		}
		if ref.Value != nil {
			ref.Value.Nullable = true
		}
		return ref
	case reflect.String:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}}
	case reflect.Bool:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}}}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}}}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"integer"},
			Min:  openapi3.Float64Ptr(0),
		}}
	case reflect.Float32, reflect.Float64:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"number"}}}
	case reflect.Slice, reflect.Array:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:  &openapi3.Types{"array"},
			Items: d.refFromType(t.Elem(), visiting),
		}}
	case reflect.Map:
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			AdditionalProperties: openapi3.AdditionalProperties{
				Schema: d.refFromType(t.Elem(), visiting),
			},
		}}
	case reflect.Struct:
		return d.structRef(t, visiting)
	default:
		return objectSchema()
	}
}

func (d *Document) structRef(t reflect.Type, visiting map[string]bool) *openapi3.SchemaRef {
	if t.PkgPath() == "time" && t.Name() == "Time" {
		return &openapi3.SchemaRef{Value: &openapi3.Schema{
			Type:   &openapi3.Types{"string"},
			Format: "date-time",
		}}
	}

	if t.Name() == "" || t.PkgPath() == "" {
		return &openapi3.SchemaRef{Value: d.buildStruct(t, visiting)}
	}

	key := typeKey(t)
	if name, ok := d.schemas[key]; ok {
		return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
	}

	// Distinct types sharing a short name get numeric suffixes.
	base := t.Name()
	name := base
	for i := 2; d.names[name] != ""; i++ {
		name = base + strconv.Itoa(i)
	}
	d.schemas[key] = name
	d.names[name] = key

	schema := d.buildStruct(t, visiting)
	if d.spec.Components.Schemas == nil {
		d.spec.Components.Schemas = make(openapi3.Schemas)
	}
	d.spec.Components.Schemas[name] = &openapi3.SchemaRef{Value: schema}

	return &openapi3.SchemaRef{Ref: "#/components/schemas/" + name}
}

func (d *Document) buildStruct(t reflect.Type, visiting map[string]bool) *openapi3.Schema {
	key := typeKey(t)
	if visiting[key] {
		// Self-referential type; break the cycle with a bare object.
		return &openapi3.Schema{Type: &openapi3.Types{"object"}}
	}
	visiting[key] = true
	defer delete(visiting, key)

	schema := &openapi3.Schema{
		Type:       &openapi3.Types{"object"},
		Properties: make(openapi3.Schemas),
	}

	var required []string

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}

		// Untagged embedded structs flatten into the parent, matching
		// encoding/json.
		if field.Anonymous && jsonTag == "" {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				embedded := d.buildStruct(ft, visiting)
				for propName, prop := range embedded.Properties {
					schema.Properties[propName] = prop
				}
				required = append(required, embedded.Required...)
				continue
			}
		}

		name := field.Name
		tagParts := strings.Split(jsonTag, ",")
		if tagParts[0] != "" {
			name = tagParts[0]
		}

		optional := false
		for _, part := range tagParts[1:] {
			if part == "omitempty" {
				optional = true
				break
			}
		}

		ref := d.refFromType(field.Type, visiting)
		schema.Properties[name] = annotate(ref, field.Tag.Get("doc"), field.Tag.Get("example"))

		if !optional {
			required = append(required, name)
		}
	}

	if len(required) > 0 {
		schema.Required = required
	}

	return schema
}

// annotate applies doc and example struct tags. Component references cannot
// carry siblings in OpenAPI 3.0, so annotated refs get an allOf wrapper.
func annotate(ref *openapi3.SchemaRef, doc, example string) *openapi3.SchemaRef {
	if doc == "" && example == "" {
		return ref
	}

	if ref.Ref != "" {
		wrapper := &openapi3.Schema{AllOf: openapi3.SchemaRefs{ref}}
		if doc != "" {
			wrapper.Description = doc
		}
		if example != "" {
			wrapper.Example = example
		}
		return &openapi3.SchemaRef{Value: wrapper}
	}

	if ref.Value != nil {
		if doc != "" {
			ref.Value.Description = doc
		}
		if example != "" {
			ref.Value.Example = example
		}
	}
	return ref
}
