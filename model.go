package nodesetexporter

// QualifiedName is a (namespace-index, name) pair, the portable form of
// ua.QualifiedName.
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// LocalizedText is a (locale, text) pair, the portable form of
// ua.LocalizedText.
type LocalizedText struct {
	Locale string
	Text   string
}

// ReferenceDescription is the portable form of a Browse result entry.
type ReferenceDescription struct {
	ReferenceType        NodeID
	IsForward            bool
	Target               ExpandedNodeID
	TargetBrowseName     QualifiedName
	TargetDisplayName    LocalizedText
	TargetNodeClass      NodeClass
	TargetTypeDefinition ExpandedNodeID
}

// IsHierarchical reports whether r's reference type is one of the fixed
// allow-list of subtypes of HierarchicalReferences this core recognizes
// (Organizes, HasComponent, HasProperty, HasChild/HasSubtype, HasEventSource
// and their common variants).
func (r ReferenceDescription) IsHierarchical() bool {
	return hierarchicalReferenceTypes[r.ReferenceType]
}

// hierarchicalReferenceTypes is a fixed allow-list. OPC UA servers can
// define further subtypes of HierarchicalReferences, but the exporter only
// needs to recognize the standard ones to drive flat-mode stripping.
var hierarchicalReferenceTypes = map[NodeID]bool{
	nodeIDOrganizes:        true,
	nodeIDHasComponent:     true,
	NumericNodeID(0, 46):   true, // HasProperty
	nodeIDHasSubtype:       true,
	NumericNodeID(0, 34):   true, // HasChild (abstract supertype)
	NumericNodeID(0, 36):   true, // HasEventSource
	NumericNodeID(0, 48):   true, // HasNotifier
	nodeIDHierarchicalRefs: true,
}

// IntermediateNode is the sole aggregate passed from the orchestrator to
// the encoder: one node's identity, position, references, and attributes,
// plus the derived alias information the encoder needs to abbreviate ns=0
// DataType/ReferenceType NodeIds.
type IntermediateNode struct {
	Self       ExpandedNodeID
	Parent     ExpandedNodeID
	Class      NodeClass
	References []ReferenceDescription
	Attrs      map[AttributeID]AttributeValue

	// RefTypeAliases maps each reference (by identity within References)
	// whose reference-type lives in ns=0 and has a known BrowseName to the
	// alias string to use when encoding it.
	RefTypeAliases map[int]string

	// DataTypeAlias is set for Variable/VariableType nodes whose DataType
	// attribute names an ns=0 type with a known BrowseName; empty otherwise.
	DataTypeAlias string
}

// AssembleIntermediateNode builds an IntermediateNode from its constituent
// parts and computes the derived alias fields. aliasNames resolves an ns=0
// NodeID to its BrowseName; when it reports unknown, no alias is recorded
// for that reference.
func AssembleIntermediateNode(
	self, parent ExpandedNodeID,
	class NodeClass,
	refs []ReferenceDescription,
	attrs map[AttributeID]AttributeValue,
	aliasNames func(NodeID) (string, bool),
) *IntermediateNode {
	node := &IntermediateNode{
		Self:       self,
		Parent:     parent,
		Class:      class,
		References: refs,
		Attrs:      attrs,
	}

	node.RefTypeAliases = make(map[int]string)
	for i, ref := range refs {
		if ref.ReferenceType.Namespace != 0 {
			continue
		}
		if name, ok := aliasNames(ref.ReferenceType); ok {
			node.RefTypeAliases[i] = name
		}
	}

	if class == NodeClassVariable || class == NodeClassVariableType {
		if dv, ok := attrs[AttributeDataType]; ok {
			if dtID, ok := dv.(NodeIDValue); ok && dtID.Value.Namespace == 0 {
				if name, ok := aliasNames(dtID.Value); ok {
					node.DataTypeAlias = name
				}
			}
		}
	}

	return node
}
