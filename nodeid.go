package nodesetexporter

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// IdentifierKind is the tag of a NodeID's identifier payload.
type IdentifierKind int

const (
	IdentifierNumeric IdentifierKind = iota
	IdentifierString
	IdentifierGUID
	IdentifierByteString
)

// NodeID is a portable (namespace-index, identifier) pair, independent of
// any particular OPC UA client library's wire representation. It is the
// exporter's own normalized form of ua.NodeID: the core never stores a raw
// *ua.NodeID past the Session Adapter boundary.
//
// Equality is structural; ordering is lexicographic on (Namespace, Kind,
// payload). Namespace 0 identifies the OPC UA standard space.
type NodeID struct {
	Namespace  uint16
	Kind       IdentifierKind
	Numeric    uint32
	Str        string
	GUID       [16]byte
	ByteString string
}

// NumericNodeID builds a NodeID with a numeric identifier.
func NumericNodeID(ns uint16, id uint32) NodeID {
	return NodeID{Namespace: ns, Kind: IdentifierNumeric, Numeric: id}
}

// StringNodeID builds a NodeID with a string identifier.
func StringNodeID(ns uint16, id string) NodeID {
	return NodeID{Namespace: ns, Kind: IdentifierString, Str: id}
}

// IsZero reports whether n is the default, unset NodeID value.
func (n NodeID) IsZero() bool {
	return n == NodeID{}
}

// Equal reports structural equality between two NodeIDs.
func (n NodeID) Equal(o NodeID) bool {
	return n == o
}

// Less orders NodeIDs lexicographically on (Namespace, Kind, payload).
func (n NodeID) Less(o NodeID) bool {
	if n.Namespace != o.Namespace {
		return n.Namespace < o.Namespace
	}
	if n.Kind != o.Kind {
		return n.Kind < o.Kind
	}
	switch n.Kind {
	case IdentifierNumeric:
		return n.Numeric < o.Numeric
	case IdentifierString:
		return n.Str < o.Str
	case IdentifierGUID:
		return string(n.GUID[:]) < string(o.GUID[:])
	default:
		return n.ByteString < o.ByteString
	}
}

// String renders the NodeID in its standard textual form:
// [ns=<ns>;](i=<u32>|s=<str>|g=<GUID>|b=<base64>).
func (n NodeID) String() string {
	var id string
	switch n.Kind {
	case IdentifierNumeric:
		id = "i=" + strconv.FormatUint(uint64(n.Numeric), 10)
	case IdentifierString:
		id = "s=" + n.Str
	case IdentifierGUID:
		id = "g=" + formatGUID(n.GUID)
	case IdentifierByteString:
		id = "b=" + base64.StdEncoding.EncodeToString([]byte(n.ByteString))
	}
	if n.Namespace == 0 {
		return id
	}
	return fmt.Sprintf("ns=%d;%s", n.Namespace, id)
}

// ParseNodeID parses the standard NodeID textual form.
func ParseNodeID(s string) (NodeID, error) {
	var n NodeID
	for _, part := range strings.Split(s, ";") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return NodeID{}, fmt.Errorf("malformed NodeID segment %q in %q", part, s)
		}
		key, val := kv[0], kv[1]
		switch key {
		case "ns":
			ns, err := strconv.ParseUint(val, 10, 16)
			if err != nil {
				return NodeID{}, fmt.Errorf("invalid namespace in NodeID %q: %w", s, err)
			}
			n.Namespace = uint16(ns)
		case "i":
			id, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return NodeID{}, fmt.Errorf("invalid numeric identifier in NodeID %q: %w", s, err)
			}
			n.Kind = IdentifierNumeric
			n.Numeric = uint32(id)
		case "s":
			n.Kind = IdentifierString
			n.Str = val
		case "g":
			g, err := uuid.Parse(val)
			if err != nil {
				return NodeID{}, fmt.Errorf("invalid GUID identifier in NodeID %q: %w", s, err)
			}
			n.Kind = IdentifierGUID
			n.GUID = [16]byte(g)
		case "b":
			b, err := base64.StdEncoding.DecodeString(val)
			if err != nil {
				return NodeID{}, fmt.Errorf("invalid byte-string identifier in NodeID %q: %w", s, err)
			}
			n.Kind = IdentifierByteString
			n.ByteString = string(b)
		default:
			return NodeID{}, fmt.Errorf("unknown NodeID segment key %q in %q", key, s)
		}
	}
	return n, nil
}

func formatGUID(b [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		uint32(b[0])<<24|uint32(b[1])<<16|uint32(b[2])<<8|uint32(b[3]),
		uint16(b[4])<<8|uint16(b[5]),
		uint16(b[6])<<8|uint16(b[7]),
		uint16(b[8])<<8|uint16(b[9]),
		b[10:16])
}

// identifierOnly renders just the identifier segment (no namespace prefix),
// used by the start-node fabrication path to derive a BrowseName and
// DisplayName for a NodeId that does not exist on the server.
func (n NodeID) identifierOnly() string {
	switch n.Kind {
	case IdentifierNumeric:
		return "i=" + strconv.FormatUint(uint64(n.Numeric), 10)
	case IdentifierString:
		return "s=" + n.Str
	case IdentifierGUID:
		return "g=" + formatGUID(n.GUID)
	default:
		return "b=" + base64.StdEncoding.EncodeToString([]byte(n.ByteString))
	}
}

// ExpandedNodeID additionally carries a server index and an optional
// namespace URI.
type ExpandedNodeID struct {
	NodeID
	ServerIndex  uint32
	NamespaceURI string
}

// Expand wraps a NodeID as an ExpandedNodeID with server index 0 and no
// namespace URI (the common case for nodes local to the exported server).
func Expand(n NodeID) ExpandedNodeID {
	return ExpandedNodeID{NodeID: n}
}

// String renders the ExpandedNodeID textual form, prepending svr=<u32>;
// and/or nsu=<uri>; ahead of the embedded NodeID's rendering.
func (e ExpandedNodeID) String() string {
	var b strings.Builder
	if e.ServerIndex != 0 {
		fmt.Fprintf(&b, "svr=%d;", e.ServerIndex)
	}
	if e.NamespaceURI != "" {
		fmt.Fprintf(&b, "nsu=%s;", e.NamespaceURI)
	}
	b.WriteString(e.NodeID.String())
	return b.String()
}

// ParseExpandedNodeID parses the standard ExpandedNodeID textual form.
func ParseExpandedNodeID(s string) (ExpandedNodeID, error) {
	rest := s
	var e ExpandedNodeID
	for {
		if strings.HasPrefix(rest, "svr=") {
			idx := strings.Index(rest, ";")
			if idx < 0 {
				return ExpandedNodeID{}, fmt.Errorf("malformed ExpandedNodeID %q: unterminated svr segment", s)
			}
			v, err := strconv.ParseUint(rest[len("svr="):idx], 10, 32)
			if err != nil {
				return ExpandedNodeID{}, fmt.Errorf("invalid server index in ExpandedNodeID %q: %w", s, err)
			}
			e.ServerIndex = uint32(v)
			rest = rest[idx+1:]
			continue
		}
		if strings.HasPrefix(rest, "nsu=") {
			idx := strings.Index(rest, ";")
			if idx < 0 {
				return ExpandedNodeID{}, fmt.Errorf("malformed ExpandedNodeID %q: unterminated nsu segment", s)
			}
			e.NamespaceURI = rest[len("nsu="):idx]
			rest = rest[idx+1:]
			continue
		}
		break
	}
	n, err := ParseNodeID(rest)
	if err != nil {
		return ExpandedNodeID{}, fmt.Errorf("invalid ExpandedNodeID %q: %w", s, err)
	}
	e.NodeID = n
	return e, nil
}

// Equal reports structural equality, including ServerIndex and NamespaceURI.
func (e ExpandedNodeID) Equal(o ExpandedNodeID) bool {
	return e == o
}

// InNamespaceZero reports whether this id belongs to the OPC UA standard
// address space (ns=0), which is always a legal reference target regardless
// of whether it was part of the exported set.
func (e ExpandedNodeID) InNamespaceZero() bool {
	return e.Namespace == 0
}

// Standard ns=0 node ids referenced throughout the repair and start-node
// pipelines.
var (
	nodeIDRoot    = NumericNodeID(0, 84)
	nodeIDObjects = NumericNodeID(0, 85)
	nodeIDTypes   = NumericNodeID(0, 86)
	nodeIDViews   = NumericNodeID(0, 87)

	nodeIDHasTypeDefinition = NumericNodeID(0, 40)
	nodeIDHasSubtype        = NumericNodeID(0, 45)
	nodeIDHasComponent      = NumericNodeID(0, 47)
	nodeIDOrganizes         = NumericNodeID(0, 35)
	nodeIDReferences        = NumericNodeID(0, 31)
	nodeIDHierarchicalRefs  = NumericNodeID(0, 33)

	nodeIDBaseObjectType       = NumericNodeID(0, 58)
	nodeIDBaseVariableType     = NumericNodeID(0, 62)
	nodeIDBaseDataVariableType = NumericNodeID(0, 63)
	nodeIDBaseDataType         = NumericNodeID(0, 24)
	nodeIDReferenceTypeBase    = NumericNodeID(0, 31)
	nodeIDFolderType           = NumericNodeID(0, 61)
)

// standardRoots is the fixed set of standard ns=0 roots the admission
// predicate and NS=0 precheck treat specially.
var standardRoots = []NodeID{nodeIDRoot, nodeIDObjects, nodeIDTypes, nodeIDViews}

func isStandardRoot(n NodeID) bool {
	for _, r := range standardRoots {
		if n.Equal(r) {
			return true
		}
	}
	return false
}

// supertypeForTypeClass maps a Type class to the ns=0 supertype injected
// when a start node of that class is missing an inverse HasSubtype
// reference.
func supertypeForTypeClass(nc NodeClass) (NodeID, bool) {
	switch nc {
	case NodeClassObjectType:
		return nodeIDBaseObjectType, true
	case NodeClassVariableType:
		return nodeIDBaseVariableType, true
	case NodeClassReferenceType:
		return nodeIDReferenceTypeBase, true
	case NodeClassDataType:
		return nodeIDBaseDataType, true
	default:
		return NodeID{}, false
	}
}
