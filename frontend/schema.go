package frontend

import (
	"reflect"

	"github.com/go-openapi/spec"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/validate"

	"github.com/txraft/rpcnode/rpctypes"
)

// BuildSchema derives a JSON schema from a sample Go value, the "helper
// may derive them from declared input/output shapes" escape hatch spec.md
// §3 leaves open for handler descriptors. Passing nil yields the empty
// object schema spec.md's install() defaults to.
func BuildSchema(sample interface{}) *spec.Schema {
	if sample == nil {
		return spec.MapProperty(nil)
	}
	s := schemaFor(reflect.TypeOf(sample))
	return s
}

func schemaFor(t reflect.Type) *spec.Schema {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		props := map[string]spec.Schema{}
		required := make([]string, 0, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			name := f.Tag.Get("json")
			if name == "" {
				name = f.Name
			}
			props[name] = *schemaFor(f.Type)
			required = append(required, name)
		}
		s := new(spec.Schema).Typed("object", "")
		s.Properties = props
		s.Required = required
		return s
	case reflect.Slice, reflect.Array:
		return spec.ArrayProperty(schemaFor(t.Elem()))
	case reflect.String:
		return spec.StringProperty()
	case reflect.Bool:
		return spec.BoolProperty()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return spec.Int64Property()
	case reflect.Float32, reflect.Float64:
		return spec.Float64Property()
	case reflect.Map:
		return spec.MapProperty(schemaFor(t.Elem()))
	default:
		return new(spec.Schema)
	}
}

// ValidateParams validates params against schema, returning an
// INVALID_PARAMS RPCError on mismatch. A nil or empty-object schema
// accepts anything, since spec.md leaves most built-in methods with no
// declared schema.
func ValidateParams(schema *spec.Schema, params interface{}) error {
	if schema == nil || (len(schema.Properties) == 0 && len(schema.Type) == 0) {
		return nil
	}
	result := validate.NewSchemaValidator(schema, nil, "params", strfmt.Default)
	res := result.Validate(params)
	if res.IsValid() {
		return nil
	}
	msg := "params do not match schema"
	if len(res.Errors) > 0 {
		msg = res.Errors[0].Error()
	}
	return rpctypes.NewRPCError(rpctypes.InvalidParams, msg)
}
