package nodesetexporter

import (
	"fmt"
	"reflect"

	"github.com/gopcua/opcua/ua"
)

// AttributeValue is the closed sum type an attribute read projects into.
// Every Attribute Service response that survives projection is exactly one
// of the concrete types below; nothing outside the projection layer handles
// a bare ua.Variant.
type AttributeValue interface {
	isAttributeValue()
}

// BoolValue carries IsAbstract, Symmetric and Historizing.
type BoolValue bool

// ByteValue carries EventNotifier and AccessLevel.
type ByteValue byte

// UInt32Value carries WriteMask-shaped attributes; unused by the current
// attribute set but kept for completeness of the sum type's numeric cases.
type UInt32Value uint32

// Int32Value carries ValueRank.
type Int32Value int32

// Float64Value carries MinimumSamplingInterval.
type Float64Value float64

// NodeClassValue carries the NodeClass attribute.
type NodeClassValue NodeClass

// NodeIDValue carries the DataType attribute and any other attribute whose
// OPC UA type is NodeId.
type NodeIDValue struct{ Value NodeID }

// QualifiedNameValue carries BrowseName.
type QualifiedNameValue QualifiedName

// LocalizedTextValue carries DisplayName, Description and InverseName.
type LocalizedTextValue LocalizedText

// VariantValue is the opaque escape hatch: the Value attribute's runtime
// payload, kept as a raw OPC UA value (scalar, or an *ArrayValue when the
// source variant was an array) for the encoder to project directly into
// the uax: namespace without this package having to model every OPC UA
// built-in type as its own sum-type case.
type VariantValue struct{ Raw interface{} }

// UInt32ArrayValue is the dedicated projection of the ArrayDimensions
// attribute, which always projects to a u32 vector regardless of the Value
// attribute's own array shape.
type UInt32ArrayValue []uint32

// StructureDefinitionValue carries the DataTypeDefinition attribute when
// the server reports a structure layout. The payload is kept opaque
// (gopcua's decoded ua.StructureDefinition) since the encoder, not this
// package, knows how to render a DataTypeDefinition element.
type StructureDefinitionValue struct{ Raw interface{} }

// EnumDefinitionValue carries the DataTypeDefinition attribute when the
// server reports an enumeration layout.
type EnumDefinitionValue struct{ Raw interface{} }

func (BoolValue) isAttributeValue()                {}
func (ByteValue) isAttributeValue()                {}
func (UInt32Value) isAttributeValue()              {}
func (Int32Value) isAttributeValue()               {}
func (Float64Value) isAttributeValue()             {}
func (NodeClassValue) isAttributeValue()           {}
func (NodeIDValue) isAttributeValue()              {}
func (QualifiedNameValue) isAttributeValue()       {}
func (LocalizedTextValue) isAttributeValue()       {}
func (VariantValue) isAttributeValue()             {}
func (UInt32ArrayValue) isAttributeValue()         {}
func (StructureDefinitionValue) isAttributeValue() {}
func (EnumDefinitionValue) isAttributeValue()      {}

// ArrayValue wraps an array-shaped value: the decoded elements plus the
// dimension-length vector. A one-dimensional array has a nil/empty
// Dimensions; anything with len(Dimensions) >= 2 is genuinely
// multidimensional (the encoder is what refuses to serialize those).
type ArrayValue struct {
	Elements   []interface{}
	Dimensions []uint32
}

// errInconsistentArray reports a variant whose ArrayLength/ArrayDimensions
// combination cannot be reconciled: arrayLength == 0 with array semantics,
// or an ArrayDimensions vector of length exactly 1 (only 0, meaning
// one-dimensional, or >= 2, meaning explicit multidimensional, are valid).
type errInconsistentArray struct {
	arrayLength     int
	dimensionsCount int
}

func (e *errInconsistentArray) Error() string {
	return fmt.Sprintf("inconsistent array variant: length=%d dimensions=%d", e.arrayLength, e.dimensionsCount)
}

func newArrayValue(elements []interface{}, dimensions []uint32) (*ArrayValue, error) {
	if len(elements) == 0 {
		return nil, &errInconsistentArray{arrayLength: 0, dimensionsCount: len(dimensions)}
	}
	if len(dimensions) == 1 {
		return nil, &errInconsistentArray{arrayLength: len(elements), dimensionsCount: 1}
	}
	return &ArrayValue{Elements: elements, Dimensions: dimensions}, nil
}

// ProjectValueVariant projects the Value attribute's variant into an
// AttributeValue. An empty variant (nil, or carrying no payload) projects
// to absent (nil, false, nil). A scalar variant wraps its raw Go value in
// VariantValue. An array variant is validated against arrayDimensions (read
// from the sibling ArrayDimensions attribute in the same batch) and, on
// success, wraps an *ArrayValue in VariantValue; an inconsistent combination
// returns the type-error that aborts the current export.
func ProjectValueVariant(v *ua.Variant, arrayDimensions []uint32) (AttributeValue, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	raw := v.Value()
	if raw == nil {
		return nil, false, nil
	}

	// A ByteString decodes to []byte but is a scalar, not an array of Byte.
	if b, ok := raw.([]byte); ok {
		return VariantValue{Raw: b}, true, nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice {
		return VariantValue{Raw: raw}, true, nil
	}

	elements := make([]interface{}, rv.Len())
	for i := range elements {
		elements[i] = rv.Index(i).Interface()
	}
	arr, err := newArrayValue(elements, arrayDimensions)
	if err != nil {
		return nil, false, fmt.Errorf("projecting Value attribute: %w", err)
	}
	return VariantValue{Raw: arr}, true, nil
}

// ProjectMetadataAttribute projects a non-Value attribute's variant into
// the AttributeValue case fixed by its AttributeID, per the standard
// Attribute Service type for that id (Part 4 §7.4). It returns
// (nil, false, nil) for an absent/empty variant, and an error only when the
// variant's dynamic type cannot possibly be reconciled with the attribute's
// fixed OPC UA type (a malformed server response).
func ProjectMetadataAttribute(attr AttributeID, v *ua.Variant) (AttributeValue, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	raw := v.Value()
	if raw == nil {
		return nil, false, nil
	}

	switch attr {
	case AttributeNodeID:
		if id, ok := raw.(*ua.NodeID); ok {
			return NodeIDValue{Value: nodeIDFromUA(id)}, true, nil
		}
	case AttributeIsAbstract, AttributeSymmetric, AttributeHistorizing:
		if b, ok := raw.(bool); ok {
			return BoolValue(b), true, nil
		}
	case AttributeEventNotifier, AttributeAccessLevel:
		if b, ok := toUint64(raw); ok {
			return ByteValue(byte(b)), true, nil
		}
	case AttributeValueRank:
		if i, ok := toInt64(raw); ok {
			return Int32Value(int32(i)), true, nil
		}
	case AttributeMinimumSamplingInterval:
		if f, ok := raw.(float64); ok {
			return Float64Value(f), true, nil
		}
	case AttributeNodeClass:
		return NodeClassValue(nodeClassFromUA(raw)), true, nil
	case AttributeDataType:
		if id, ok := raw.(*ua.NodeID); ok {
			return NodeIDValue{Value: nodeIDFromUA(id)}, true, nil
		}
	case AttributeBrowseName:
		if qn, ok := raw.(*ua.QualifiedName); ok {
			return QualifiedNameValue(qualifiedNameFromUA(qn)), true, nil
		}
		if qn, ok := raw.(ua.QualifiedName); ok {
			return QualifiedNameValue(qualifiedNameFromUA(&qn)), true, nil
		}
	case AttributeDisplayName, AttributeDescription, AttributeInverseName:
		if lt, ok := raw.(*ua.LocalizedText); ok {
			return LocalizedTextValue(localizedTextFromUA(lt)), true, nil
		}
		if lt, ok := raw.(ua.LocalizedText); ok {
			return LocalizedTextValue(localizedTextFromUA(&lt)), true, nil
		}
	case AttributeArrayDimensions:
		return projectArrayDimensions(raw), true, nil
	case AttributeDataTypeDefinition:
		switch def := raw.(type) {
		case *ua.StructureDefinition:
			return StructureDefinitionValue{Raw: def}, true, nil
		case *ua.EnumDefinition:
			return EnumDefinitionValue{Raw: def}, true, nil
		default:
			return StructureDefinitionValue{Raw: def}, true, nil
		}
	}
	return nil, false, fmt.Errorf("attribute %d: variant of type %T does not match its fixed OPC UA type", attr, raw)
}

// projectArrayDimensions always returns a UInt32ArrayValue, coercing
// whatever integer-slice shape the client library decoded the
// ArrayDimensions attribute into. An unrecognized shape yields an empty
// vector rather than an error: ArrayDimensions is advisory metadata, never
// itself cause to abort an export.
func projectArrayDimensions(raw interface{}) UInt32ArrayValue {
	switch dims := raw.(type) {
	case []uint32:
		out := make(UInt32ArrayValue, len(dims))
		copy(out, dims)
		return out
	case []int32:
		out := make(UInt32ArrayValue, len(dims))
		for i, d := range dims {
			out[i] = uint32(d) //nolint:gosec // dimension lengths are non-negative by construction
		}
		return out
	default:
		return nil
	}
}

func toUint64(raw interface{}) (uint64, bool) {
	switch v := raw.(type) {
	case byte:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int32:
		return uint64(v), true
	default:
		return 0, false
	}
}

func toInt64(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

// FormatAttributeValue renders any AttributeValue (including nil) to a
// stable diagnostic string. It is total: no case panics, and an unknown
// concrete type falls back to a generic %v rendering rather than failing,
// since this function backs log lines and error messages, not the XML
// encoder.
func FormatAttributeValue(v AttributeValue) string {
	switch t := v.(type) {
	case nil:
		return "<absent>"
	case BoolValue:
		return fmt.Sprintf("%t", bool(t))
	case ByteValue:
		return fmt.Sprintf("%d", byte(t))
	case UInt32Value:
		return fmt.Sprintf("%d", uint32(t))
	case Int32Value:
		return fmt.Sprintf("%d", int32(t))
	case Float64Value:
		return fmt.Sprintf("%g", float64(t))
	case NodeClassValue:
		return NodeClass(t).String()
	case NodeIDValue:
		return t.Value.String()
	case QualifiedNameValue:
		return fmt.Sprintf("%d:%s", t.NamespaceIndex, t.Name)
	case LocalizedTextValue:
		return fmt.Sprintf("[%s]%q", t.Locale, t.Text)
	case UInt32ArrayValue:
		return fmt.Sprintf("%v", []uint32(t))
	case VariantValue:
		if arr, ok := t.Raw.(*ArrayValue); ok {
			return fmt.Sprintf("array(len=%d,dims=%v)", len(arr.Elements), arr.Dimensions)
		}
		return fmt.Sprintf("%v", t.Raw)
	case StructureDefinitionValue:
		return fmt.Sprintf("StructureDefinition(%v)", t.Raw)
	case EnumDefinitionValue:
		return fmt.Sprintf("EnumDefinition(%v)", t.Raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}
