// Package reflectengine implements C11: it discovers services over the
// standard gRPC reflection protocol, resolves a closed message/enum schema
// for one RPC, and performs unary calls by encoding/decoding arbitrary
// messages as JSON against that schema.
package reflectengine

import (
	"google.golang.org/protobuf/reflect/protoreflect"
)

// FieldLabel mirrors a field's cardinality in the schema graph.
type FieldLabel string

const (
	LabelOptional FieldLabel = "optional"
	LabelRequired FieldLabel = "required"
	LabelRepeated FieldLabel = "repeated"
)

// Field describes one field of a Message CommonType.
type Field struct {
	Name     string     `json:"name"`
	JSONName string     `json:"json_name"`
	Number   int32      `json:"number"`
	Label    FieldLabel `json:"label"`
	Packed   bool       `json:"packed"`
	Ktype    string     `json:"ktype"`
}

// CommonType is either a Message (Fields/Oneofs populated) or an Enum
// (Values populated), discriminated by Kind.
type CommonType struct {
	Kind   string   `json:"kind"` // "message" | "enum"
	Name   string   `json:"name"`
	Fields []Field  `json:"fields,omitempty"`
	Oneofs []string `json:"oneofs,omitempty"`
	Values []string `json:"values,omitempty"`
}

// RpcInfo bundles one method's request/response type names with a schema
// map closed under "every referenced type is a key of the map".
type RpcInfo struct {
	Service       string                `json:"service"`
	Method        string                `json:"method"`
	RequestType   string                `json:"request_type"`
	ResponseType  string                `json:"response_type"`
	RelatedSchema map[string]CommonType `json:"relate_schema"`
}

// collectType walks desc and everything it transitively references into
// schema, keyed by full name. Safe against cycles: a type is registered
// (even if only partially, for messages) before its fields are walked.
func collectType(desc protoreflect.MessageDescriptor, schema map[string]CommonType) {
	name := string(desc.FullName())
	if _, ok := schema[name]; ok {
		return
	}
	schema[name] = CommonType{Kind: "message", Name: name}

	fields := desc.Fields()
	ct := CommonType{Kind: "message", Name: name}
	for i := 0; i < fields.Len(); i++ {
		fd := fields.Get(i)
		ct.Fields = append(ct.Fields, Field{
			Name:     string(fd.Name()),
			JSONName: fd.JSONName(),
			Number:   int32(fd.Number()),
			Label:    fieldLabel(fd),
			Packed:   fd.IsPacked(),
			Ktype:    fd.Kind().String(),
		})
		switch fd.Kind() {
		case protoreflect.MessageKind, protoreflect.GroupKind:
			collectType(fd.Message(), schema)
		case protoreflect.EnumKind:
			collectEnum(fd.Enum(), schema)
		}
	}

	oneofs := desc.Oneofs()
	for i := 0; i < oneofs.Len(); i++ {
		if od := oneofs.Get(i); !od.IsSynthetic() {
			ct.Oneofs = append(ct.Oneofs, string(od.Name()))
		}
	}
	schema[name] = ct
}

func collectEnum(desc protoreflect.EnumDescriptor, schema map[string]CommonType) {
	name := string(desc.FullName())
	if _, ok := schema[name]; ok {
		return
	}
	values := desc.Values()
	ct := CommonType{Kind: "enum", Name: name}
	for i := 0; i < values.Len(); i++ {
		ct.Values = append(ct.Values, string(values.Get(i).Name()))
	}
	schema[name] = ct
}

func fieldLabel(fd protoreflect.FieldDescriptor) FieldLabel {
	switch {
	case fd.IsList():
		return LabelRepeated
	case fd.Cardinality() == protoreflect.Required:
		return LabelRequired
	default:
		return LabelOptional
	}
}
