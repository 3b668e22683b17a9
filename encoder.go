package nodesetexporter

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gopcua/opcua/ua"
)

// Encoder holds the namespace and alias tables plus a per-class buffer of
// already-rendered node elements for the lifetime of one export, and writes
// the whole document to its destination only at End, with the section
// ordering NodeSet2 requires: NamespaceUris, Aliases, then node elements
// grouped by class.
//
// The optional ServerUris, Models and Extensions sections are not emitted.
type Encoder struct {
	dest Destination

	began           bool
	namespacesAdded bool
	aliasesAdded    bool
	ended           bool

	namespaceURIs []string
	aliasEntries  []Entry
	nodesByClass  map[NodeClass][]byte
}

// nodeClassOrder is the fixed NodeSet2 schema sequence for node elements.
// Method and View never appear: the admission predicate always rejects
// them before they reach the encoder.
var nodeClassOrder = []NodeClass{
	NodeClassObject,
	NodeClassVariable,
	NodeClassObjectType,
	NodeClassVariableType,
	NodeClassReferenceType,
	NodeClassDataType,
}

// NewEncoder builds an Encoder that will write to dest when End runs.
func NewEncoder(dest Destination) *Encoder {
	return &Encoder{dest: dest, nodesByClass: make(map[NodeClass][]byte)}
}

// Begin marks the encoder ready to receive namespaces, aliases and nodes.
func (e *Encoder) Begin() error {
	if e.began {
		return errors.New("encoder: Begin called twice")
	}
	e.began = true
	return nil
}

// AddNamespaces records the NamespaceUris section's content. Calling it
// twice on one encoder fails.
func (e *Encoder) AddNamespaces(uris []string) error {
	if !e.began {
		return errors.New("encoder: AddNamespaces called before Begin")
	}
	if e.namespacesAdded {
		return errors.New("encoder: AddNamespaces called twice")
	}
	e.namespacesAdded = true
	e.namespaceURIs = uris
	return nil
}

// AddAliases records the Aliases section's content.
func (e *Encoder) AddAliases(entries []Entry) error {
	if !e.began {
		return errors.New("encoder: AddAliases called before Begin")
	}
	if e.aliasesAdded {
		return errors.New("encoder: AddAliases called twice")
	}
	e.aliasesAdded = true
	e.aliasEntries = entries
	return nil
}

// AddNode renders one node and appends it to its class's buffer, preserving
// insertion order within the class. A structurally invalid Value (a
// multi-dimensional array) fails here rather than at End, so the export
// aborts as soon as the offending node is encountered.
func (e *Encoder) AddNode(node *IntermediateNode) error {
	if !e.began {
		return errors.New("encoder: AddNode called before Begin")
	}

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	if err := writeNode(enc, node); err != nil {
		return fmt.Errorf("encoding node %s: %w", node.Self, err)
	}
	if err := enc.Flush(); err != nil {
		return fmt.Errorf("encoding node %s: %w", node.Self, err)
	}

	e.nodesByClass[node.Class] = append(e.nodesByClass[node.Class], buf.Bytes()...)
	return nil
}

// End writes the full document to the configured destination and releases
// the encoder's buffers, regardless of success or failure.
func (e *Encoder) End() error {
	if !e.began {
		return errors.New("encoder: End called before Begin")
	}
	if e.ended {
		return errors.New("encoder: End called twice")
	}
	e.ended = true
	defer func() { e.nodesByClass = nil }()

	w, closeFn, err := e.openDestination()
	if err != nil {
		return err
	}
	defer closeFn()

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("writing XML header: %w", err)
	}

	enc := xml.NewEncoder(w)
	root := xml.StartElement{
		Name: xml.Name{Local: "UANodeSet"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "xmlns"}, Value: "http://opcfoundation.org/UA/2011/03/UANodeSet.xsd"},
			{Name: xml.Name{Local: "xmlns:xsi"}, Value: "http://www.w3.org/2001/XMLSchema-instance"},
			{Name: xml.Name{Local: "xmlns:xsd"}, Value: "http://www.w3.org/2001/XMLSchema"},
			{Name: xml.Name{Local: "xmlns:uax"}, Value: "http://opcfoundation.org/UA/2008/02/Types.xsd"},
		},
	}
	if err := enc.EncodeToken(root); err != nil {
		return fmt.Errorf("writing root element: %w", err)
	}

	if err := writeNamespaceURIs(enc, e.namespaceURIs); err != nil {
		return fmt.Errorf("writing NamespaceUris: %w", err)
	}
	if err := writeAliases(enc, e.aliasEntries); err != nil {
		return fmt.Errorf("writing Aliases: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return err
	}

	for _, class := range nodeClassOrder {
		if _, err := w.Write(e.nodesByClass[class]); err != nil {
			return fmt.Errorf("writing %s nodes: %w", class, err)
		}
	}

	if err := enc.EncodeToken(root.End()); err != nil {
		return fmt.Errorf("closing root element: %w", err)
	}
	return enc.Flush()
}

func (e *Encoder) openDestination() (io.Writer, func(), error) {
	if e.dest.Writer != nil {
		return e.dest.Writer, func() {}, nil
	}
	if e.dest.Path == "" {
		return nil, nil, errNoDestination
	}
	f, err := os.Create(e.dest.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating destination file: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func writeNamespaceURIs(enc *xml.Encoder, uris []string) error {
	start := xml.StartElement{Name: xml.Name{Local: "NamespaceUris"}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, u := range uris {
		if err := encodeTextElement(enc, "Uri", u); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func writeAliases(enc *xml.Encoder, entries []Entry) error {
	start := xml.StartElement{Name: xml.Name{Local: "Aliases"}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, a := range entries {
		el := xml.StartElement{
			Name: xml.Name{Local: "Alias"},
			Attr: []xml.Attr{{Name: xml.Name{Local: "Alias"}, Value: a.Name}},
		}
		if err := enc.EncodeToken(el); err != nil {
			return err
		}
		if err := enc.EncodeToken(xml.CharData(a.ID.String())); err != nil {
			return err
		}
		if err := enc.EncodeToken(el.End()); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func encodeTextElement(enc *xml.Encoder, name, text string) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := enc.EncodeToken(xml.CharData(text)); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// writeNode renders one node's start tag, attributes and children in the
// fixed order DisplayName, Description, References, then any class-specific
// extras (InverseName for ReferenceType, Value for Variable/VariableType).
func writeNode(enc *xml.Encoder, node *IntermediateNode) error {
	attrs := []xml.Attr{
		{Name: xml.Name{Local: "NodeId"}, Value: node.Self.NodeID.String()},
	}
	if bn, ok := node.Attrs[AttributeBrowseName].(QualifiedNameValue); ok {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "BrowseName"}, Value: formatQualifiedNameAttr(bn)})
	}
	// ParentNodeId is only defined for instance nodes; the UAType elements
	// carry their position through the inverse HasSubtype reference instead.
	if node.Class == NodeClassObject || node.Class == NodeClassVariable {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "ParentNodeId"}, Value: node.Parent.NodeID.String()})
	}
	attrs = append(attrs, classSpecificAttrs(node)...)

	start := xml.StartElement{Name: xml.Name{Local: nodeElementName(node.Class)}, Attr: attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}

	if dn, ok := node.Attrs[AttributeDisplayName].(LocalizedTextValue); ok {
		if err := encodeLocalizedText(enc, "DisplayName", dn); err != nil {
			return err
		}
	}
	if d, ok := node.Attrs[AttributeDescription].(LocalizedTextValue); ok {
		if err := encodeLocalizedText(enc, "Description", d); err != nil {
			return err
		}
	}

	if err := writeReferences(enc, node); err != nil {
		return err
	}

	if node.Class == NodeClassReferenceType {
		if inv, ok := node.Attrs[AttributeInverseName].(LocalizedTextValue); ok {
			if err := encodeLocalizedText(enc, "InverseName", inv); err != nil {
				return err
			}
		}
	}

	if node.Class == NodeClassVariable || node.Class == NodeClassVariableType {
		if v, ok := node.Attrs[AttributeValueID]; ok {
			if err := writeValueElement(enc, v); err != nil {
				return err
			}
		}
	}

	return enc.EncodeToken(start.End())
}

func nodeElementName(nc NodeClass) string {
	switch nc {
	case NodeClassObject:
		return "UAObject"
	case NodeClassVariable:
		return "UAVariable"
	case NodeClassObjectType:
		return "UAObjectType"
	case NodeClassVariableType:
		return "UAVariableType"
	case NodeClassReferenceType:
		return "UAReferenceType"
	case NodeClassDataType:
		return "UADataType"
	default:
		return "UAObject"
	}
}

func classSpecificAttrs(node *IntermediateNode) []xml.Attr {
	var out []xml.Attr

	switch node.Class {
	case NodeClassObject:
		if en, ok := node.Attrs[AttributeEventNotifier].(ByteValue); ok && en != 0 {
			out = append(out, xml.Attr{Name: xml.Name{Local: "EventNotifier"}, Value: strconv.Itoa(int(en))})
		}
	case NodeClassVariable, NodeClassVariableType:
		if node.DataTypeAlias != "" {
			out = append(out, xml.Attr{Name: xml.Name{Local: "DataType"}, Value: node.DataTypeAlias})
		} else if dv, ok := node.Attrs[AttributeDataType].(NodeIDValue); ok {
			out = append(out, xml.Attr{Name: xml.Name{Local: "DataType"}, Value: dv.Value.String()})
		}
		if vr, ok := node.Attrs[AttributeValueRank].(Int32Value); ok {
			out = append(out, xml.Attr{Name: xml.Name{Local: "ValueRank"}, Value: strconv.Itoa(int(vr))})
		}
		if dims, ok := node.Attrs[AttributeArrayDimensions].(UInt32ArrayValue); ok && len(dims) > 0 {
			out = append(out, xml.Attr{Name: xml.Name{Local: "ArrayDimensions"}, Value: joinUint32(dims)})
		}
		if node.Class == NodeClassVariable {
			if al, ok := node.Attrs[AttributeAccessLevel].(ByteValue); ok {
				out = append(out, xml.Attr{Name: xml.Name{Local: "AccessLevel"}, Value: strconv.Itoa(int(al))})
			}
		}
	}

	if node.Class == NodeClassVariableType || node.Class == NodeClassObjectType ||
		node.Class == NodeClassReferenceType || node.Class == NodeClassDataType {
		if b, ok := node.Attrs[AttributeIsAbstract].(BoolValue); ok && bool(b) {
			out = append(out, xml.Attr{Name: xml.Name{Local: "IsAbstract"}, Value: "true"})
		}
	}

	if node.Class == NodeClassReferenceType {
		if b, ok := node.Attrs[AttributeSymmetric].(BoolValue); ok && bool(b) {
			out = append(out, xml.Attr{Name: xml.Name{Local: "Symmetric"}, Value: "true"})
		}
	}

	return out
}

func joinUint32(dims []uint32) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = strconv.FormatUint(uint64(d), 10)
	}
	return strings.Join(parts, ",")
}

func formatQualifiedNameAttr(qn QualifiedNameValue) string {
	if qn.NamespaceIndex == 0 {
		return qn.Name
	}
	return fmt.Sprintf("%d:%s", qn.NamespaceIndex, qn.Name)
}

func encodeLocalizedText(enc *xml.Encoder, name string, lt LocalizedTextValue) error {
	start := xml.StartElement{Name: xml.Name{Local: name}}
	if lt.Locale != "" {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: "Locale"}, Value: lt.Locale})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := enc.EncodeToken(xml.CharData(lt.Text)); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// writeReferences renders the References element: one child per reference,
// using the reference-type alias when the Intermediate Node carries one for
// that slot, and omitting IsForward when true.
func writeReferences(enc *xml.Encoder, node *IntermediateNode) error {
	start := xml.StartElement{Name: xml.Name{Local: "References"}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for i, r := range node.References {
		refType := r.ReferenceType.String()
		if alias, ok := node.RefTypeAliases[i]; ok {
			refType = alias
		}
		attrs := []xml.Attr{{Name: xml.Name{Local: "ReferenceType"}, Value: refType}}
		if !r.IsForward {
			attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "IsForward"}, Value: "false"})
		}
		el := xml.StartElement{Name: xml.Name{Local: "Reference"}, Attr: attrs}
		if err := enc.EncodeToken(el); err != nil {
			return err
		}
		if err := enc.EncodeToken(xml.CharData(r.Target.NodeID.String())); err != nil {
			return err
		}
		if err := enc.EncodeToken(el.End()); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// writeValueElement renders a Variable/VariableType's Value element in the
// uax: namespace. An AttributeValue other than VariantValue (the
// projection's opaque escape hatch) writes nothing.
func writeValueElement(enc *xml.Encoder, v AttributeValue) error {
	vv, ok := v.(VariantValue)
	if !ok {
		return nil
	}

	start := xml.StartElement{Name: xml.Name{Local: "Value"}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := writeVariantPayload(enc, vv.Raw); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// writeVariantPayload renders a scalar value or a one-dimensional array as
// a ListOfXxx element. A genuinely multi-dimensional array (len(Dimensions)
// > 1) raises the type-error that aborts the export: NodeSet2 loaders do
// not accept them.
func writeVariantPayload(enc *xml.Encoder, raw interface{}) error {
	arr, isArray := raw.(*ArrayValue)
	if !isArray {
		return writeUAXScalar(enc, raw)
	}

	if len(arr.Dimensions) > 1 {
		return fmt.Errorf("value is a multi-dimensional array (dims=%v), which the NodeSet2 loader does not support", arr.Dimensions)
	}
	if len(arr.Elements) == 0 {
		return nil
	}

	listName := "ListOf" + uaxElementName(arr.Elements[0])
	start := xml.StartElement{Name: xml.Name{Local: "uax:" + listName}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	for _, el := range arr.Elements {
		if err := writeUAXScalar(enc, el); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func writeUAXScalar(enc *xml.Encoder, raw interface{}) error {
	start := xml.StartElement{Name: xml.Name{Local: "uax:" + uaxElementName(raw)}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := encodeUAXChildren(enc, raw); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// uaxElementName maps a decoded Go/gopcua value to the element name the
// OPC UA Types schema (uax:) defines for its builtin type.
func uaxElementName(raw interface{}) string {
	switch raw.(type) {
	case bool:
		return "Boolean"
	case int8:
		return "SByte"
	case byte:
		return "Byte"
	case int16:
		return "Int16"
	case uint16:
		return "UInt16"
	case int32:
		return "Int32"
	case uint32:
		return "UInt32"
	case int64:
		return "Int64"
	case uint64:
		return "UInt64"
	case float32:
		return "Float"
	case float64:
		return "Double"
	case string:
		return "String"
	case time.Time:
		return "DateTime"
	case []byte:
		return "ByteString"
	case uuid.UUID:
		return "Guid"
	case *ua.NodeID, ua.NodeID:
		return "NodeId"
	case *ua.ExpandedNodeID, ua.ExpandedNodeID:
		return "ExpandedNodeId"
	case *ua.QualifiedName, ua.QualifiedName:
		return "QualifiedName"
	case *ua.LocalizedText, ua.LocalizedText:
		return "LocalizedText"
	case *ua.DiagnosticInfo, ua.DiagnosticInfo:
		return "DiagnosticInfo"
	default:
		return "String"
	}
}

// encodeUAXChildren writes a scalar's content: CharData for primitives,
// structured child elements for the compound uax: types.
func encodeUAXChildren(enc *xml.Encoder, raw interface{}) error {
	switch v := raw.(type) {
	case *ua.NodeID:
		return enc.EncodeToken(xml.CharData(nodeIDFromUA(v).String()))
	case ua.NodeID:
		return enc.EncodeToken(xml.CharData(nodeIDFromUA(&v).String()))
	case *ua.ExpandedNodeID:
		return enc.EncodeToken(xml.CharData(expandedNodeIDFromUA(v).String()))
	case ua.ExpandedNodeID:
		return enc.EncodeToken(xml.CharData(expandedNodeIDFromUA(&v).String()))
	case *ua.QualifiedName:
		return encodeQualifiedNameChildren(enc, qualifiedNameFromUA(v))
	case ua.QualifiedName:
		return encodeQualifiedNameChildren(enc, qualifiedNameFromUA(&v))
	case *ua.LocalizedText:
		return encodeLocalizedTextChildren(enc, localizedTextFromUA(v))
	case ua.LocalizedText:
		return encodeLocalizedTextChildren(enc, localizedTextFromUA(&v))
	case *ua.DiagnosticInfo:
		return encodeDiagnosticInfoChildren(enc, v)
	case ua.DiagnosticInfo:
		return encodeDiagnosticInfoChildren(enc, &v)
	case []byte:
		return enc.EncodeToken(xml.CharData(base64.StdEncoding.EncodeToString(v)))
	case time.Time:
		return enc.EncodeToken(xml.CharData(v.UTC().Format(time.RFC3339Nano)))
	case uuid.UUID:
		return enc.EncodeToken(xml.CharData(v.String()))
	default:
		return enc.EncodeToken(xml.CharData(formatUAXPrimitive(v)))
	}
}

func encodeQualifiedNameChildren(enc *xml.Encoder, qn QualifiedName) error {
	if err := encodeTextElementNS(enc, "NamespaceIndex", strconv.FormatUint(uint64(qn.NamespaceIndex), 10)); err != nil {
		return err
	}
	return encodeTextElementNS(enc, "Name", qn.Name)
}

func encodeLocalizedTextChildren(enc *xml.Encoder, lt LocalizedText) error {
	if lt.Locale != "" {
		if err := encodeTextElementNS(enc, "Locale", lt.Locale); err != nil {
			return err
		}
	}
	return encodeTextElementNS(enc, "Text", lt.Text)
}

// encodeDiagnosticInfoChildren writes the DiagnosticInfo members the
// encoding mask marks as present, recursing into the nested inner
// diagnostic info.
func encodeDiagnosticInfoChildren(enc *xml.Encoder, d *ua.DiagnosticInfo) error {
	if d == nil {
		return nil
	}
	if d.Has(ua.DiagnosticInfoSymbolicID) {
		if err := encodeTextElementNS(enc, "SymbolicId", strconv.FormatInt(int64(d.SymbolicID), 10)); err != nil {
			return err
		}
	}
	if d.Has(ua.DiagnosticInfoNamespaceURI) {
		if err := encodeTextElementNS(enc, "NamespaceUri", strconv.FormatInt(int64(d.NamespaceURI), 10)); err != nil {
			return err
		}
	}
	if d.Has(ua.DiagnosticInfoLocale) {
		if err := encodeTextElementNS(enc, "Locale", strconv.FormatInt(int64(d.Locale), 10)); err != nil {
			return err
		}
	}
	if d.Has(ua.DiagnosticInfoLocalizedText) {
		if err := encodeTextElementNS(enc, "LocalizedText", strconv.FormatInt(int64(d.LocalizedText), 10)); err != nil {
			return err
		}
	}
	if d.Has(ua.DiagnosticInfoAdditionalInfo) {
		if err := encodeTextElementNS(enc, "AdditionalInfo", d.AdditionalInfo); err != nil {
			return err
		}
	}
	if d.Has(ua.DiagnosticInfoInnerStatusCode) {
		start := xml.StartElement{Name: xml.Name{Local: "uax:InnerStatusCode"}}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if err := encodeTextElementNS(enc, "Code", strconv.FormatUint(uint64(d.InnerStatusCode), 10)); err != nil {
			return err
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return err
		}
	}
	if d.Has(ua.DiagnosticInfoInnerDiagnosticInfo) && d.InnerDiagnosticInfo != nil {
		start := xml.StartElement{Name: xml.Name{Local: "uax:InnerDiagnosticInfo"}}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		if err := encodeDiagnosticInfoChildren(enc, d.InnerDiagnosticInfo); err != nil {
			return err
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return err
		}
	}
	return nil
}

func encodeTextElementNS(enc *xml.Encoder, name, text string) error {
	start := xml.StartElement{Name: xml.Name{Local: "uax:" + name}}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if err := enc.EncodeToken(xml.CharData(text)); err != nil {
		return err
	}
	return enc.EncodeToken(start.End())
}

// formatUAXPrimitive is the total fallback renderer for any other scalar
// kind reflection can widen to a string (never panics, mirroring
// FormatAttributeValue's own totality guarantee).
func formatUAXPrimitive(raw interface{}) string {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", raw)
	}
}
