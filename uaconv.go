package nodesetexporter

import (
	"github.com/google/uuid"
	"github.com/gopcua/opcua/ua"
)

// nodeIDFromUA converts a gopcua NodeID into this package's portable NodeID.
// This is the single point where the exporter crosses from the OPC UA client
// library's wire representation into its own normalized form.
func nodeIDFromUA(id *ua.NodeID) NodeID {
	if id == nil {
		return NodeID{}
	}
	switch id.Type() {
	case ua.NodeIDTypeString:
		return StringNodeID(id.Namespace(), id.StringID())
	case ua.NodeIDTypeGUID:
		n := NodeID{Namespace: id.Namespace(), Kind: IdentifierGUID}
		if g, err := uuid.Parse(id.StringID()); err == nil {
			n.GUID = [16]byte(g)
		}
		return n
	case ua.NodeIDTypeByteString:
		return NodeID{Namespace: id.Namespace(), Kind: IdentifierByteString, ByteString: id.StringID()}
	default: // TwoByte, FourByte, Numeric
		return NumericNodeID(id.Namespace(), id.IntID())
	}
}

// expandedNodeIDFromUA converts a gopcua ExpandedNodeID into the portable
// ExpandedNodeID, carrying ServerIndex and NamespaceURI across.
func expandedNodeIDFromUA(id *ua.ExpandedNodeID) ExpandedNodeID {
	if id == nil {
		return ExpandedNodeID{}
	}
	return ExpandedNodeID{
		NodeID:       nodeIDFromUA(id.NodeID),
		ServerIndex:  id.ServerIndex,
		NamespaceURI: id.NamespaceURI,
	}
}

// nodeIDToUA converts a portable NodeID back to a gopcua NodeID, used when
// the Session builds outgoing Browse/Read requests.
func nodeIDToUA(n NodeID) *ua.NodeID {
	switch n.Kind {
	case IdentifierString:
		return ua.NewStringNodeID(n.Namespace, n.Str)
	case IdentifierGUID:
		return ua.NewGUIDNodeID(n.Namespace, formatGUID(n.GUID))
	case IdentifierByteString:
		return ua.NewByteStringNodeID(n.Namespace, []byte(n.ByteString))
	default:
		return ua.NewNumericNodeID(n.Namespace, n.Numeric)
	}
}

// qualifiedNameFromUA converts a gopcua QualifiedName value.
func qualifiedNameFromUA(qn *ua.QualifiedName) QualifiedName {
	if qn == nil {
		return QualifiedName{}
	}
	return QualifiedName{NamespaceIndex: qn.NamespaceIndex, Name: qn.Name}
}

// localizedTextFromUA converts a gopcua LocalizedText value.
func localizedTextFromUA(lt *ua.LocalizedText) LocalizedText {
	if lt == nil {
		return LocalizedText{}
	}
	return LocalizedText{Locale: lt.Locale, Text: lt.Text}
}

// nodeClassFromUA normalizes a NodeClass value read over the wire. Some
// servers (notably unpatched Open62541 builds) return the NodeClass
// attribute as a raw int32 instead of the proper NodeClass encoding; this
// re-tags either representation.
func nodeClassFromUA(v interface{}) NodeClass {
	switch t := v.(type) {
	case ua.NodeClass:
		return NodeClass(t)
	case int32:
		return NodeClass(t) //nolint:gosec // server-reported class value, bounded by the standard enum
	case uint32:
		return NodeClass(t)
	default:
		return NodeClassUnspecified
	}
}
