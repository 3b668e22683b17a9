package nodesetexporter

// NodeClass mirrors the OPC UA NodeClass enumeration (its numeric values
// match the standard's bitmask, which is also what github.com/gopcua/opcua's
// ua.NodeClass uses, so conversion at the Session Adapter boundary is a
// direct cast).
type NodeClass uint32

const (
	NodeClassUnspecified    NodeClass = 0
	NodeClassObject         NodeClass = 1
	NodeClassVariable       NodeClass = 2
	NodeClassMethod         NodeClass = 4
	NodeClassObjectType     NodeClass = 8
	NodeClassVariableType   NodeClass = 16
	NodeClassReferenceType  NodeClass = 32
	NodeClassDataType       NodeClass = 64
	NodeClassView           NodeClass = 128
)

func (nc NodeClass) String() string {
	switch nc {
	case NodeClassObject:
		return "Object"
	case NodeClassVariable:
		return "Variable"
	case NodeClassMethod:
		return "Method"
	case NodeClassObjectType:
		return "ObjectType"
	case NodeClassVariableType:
		return "VariableType"
	case NodeClassReferenceType:
		return "ReferenceType"
	case NodeClassDataType:
		return "DataType"
	case NodeClassView:
		return "View"
	default:
		return "Unspecified"
	}
}

// IsTypeClass reports whether nc is one of the Type classes (ObjectType,
// VariableType, ReferenceType, DataType): the classes whose supertype edge
// is an inverse HasSubtype reference rather than a forward HasTypeDefinition.
func (nc NodeClass) IsTypeClass() bool {
	switch nc {
	case NodeClassObjectType, NodeClassVariableType, NodeClassReferenceType, NodeClassDataType:
		return true
	default:
		return false
	}
}

// IsIgnored reports whether nc is one of the ignored classes that admit()
// always rejects (Method, View, Unspecified).
func (nc NodeClass) IsIgnored() bool {
	switch nc {
	case NodeClassMethod, NodeClassView, NodeClassUnspecified:
		return true
	default:
		return false
	}
}

// attributesForClass returns the set of AttributeIDs the Session batches
// for a node of the given class: the common identity attributes plus the
// class-specific ones the encoder can render.
func attributesForClass(nc NodeClass) []AttributeID {
	common := []AttributeID{
		AttributeNodeID,
		AttributeNodeClass,
		AttributeBrowseName,
		AttributeDisplayName,
		AttributeDescription,
	}
	switch nc {
	case NodeClassObject:
		return append(common, AttributeEventNotifier)
	case NodeClassVariable:
		return append(common,
			AttributeValueID,
			AttributeDataType,
			AttributeValueRank,
			AttributeArrayDimensions,
			AttributeAccessLevel,
			AttributeMinimumSamplingInterval,
			AttributeHistorizing)
	case NodeClassObjectType:
		return append(common, AttributeIsAbstract)
	case NodeClassVariableType:
		return append(common,
			AttributeValueID,
			AttributeDataType,
			AttributeValueRank,
			AttributeArrayDimensions,
			AttributeIsAbstract)
	case NodeClassReferenceType:
		return append(common, AttributeIsAbstract, AttributeSymmetric, AttributeInverseName)
	case NodeClassDataType:
		return append(common, AttributeIsAbstract, AttributeDataTypeDefinition)
	default:
		return nil
	}
}
