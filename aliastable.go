package nodesetexporter

import "sort"

// AliasTable abbreviates ns=0 DataType and ReferenceType NodeIds in the
// output. It lives for the whole export and holds each alias at most once,
// resolving to exactly one NodeId.
type AliasTable struct {
	byName map[string]NodeID
}

// NewAliasTable builds an empty alias table.
func NewAliasTable() *AliasTable {
	return &AliasTable{byName: make(map[string]NodeID)}
}

// TryEmplace records (name -> id) only if name is not already present,
// first wins. It reports whether the name was newly inserted.
func (a *AliasTable) TryEmplace(name string, id NodeID) bool {
	if _, exists := a.byName[name]; exists {
		return false
	}
	a.byName[name] = id
	return true
}

// Lookup returns the NodeID an alias resolves to, if known.
func (a *AliasTable) Lookup(name string) (NodeID, bool) {
	id, ok := a.byName[name]
	return id, ok
}

// Len reports how many aliases are recorded.
func (a *AliasTable) Len() int { return len(a.byName) }

// Entry is one (alias, NodeId) pair, used when emitting the <Aliases>
// section in a stable order.
type Entry struct {
	Name string
	ID   NodeID
}

// Entries returns the alias table's contents sorted by alias name, so two
// exports of the same input produce byte-identical output regardless of map
// iteration order.
func (a *AliasTable) Entries() []Entry {
	out := make([]Entry, 0, len(a.byName))
	for name, id := range a.byName {
		out = append(out, Entry{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// wellKnownNS0Names resolves an ns=0 NodeID to its standard BrowseName for
// alias purposes, covering the reference types and built-in data types the
// repair pipeline and Intermediate Node model need without a live Browse
// round-trip per candidate. It also backs the references the repair
// pipeline itself injects, whose BrowseName was never fetched from the
// server.
var wellKnownNS0Names = map[NodeID]string{
	NumericNodeID(0, 31):    "References",
	NumericNodeID(0, 32):    "NonHierarchicalReferences",
	nodeIDHierarchicalRefs:  "HierarchicalReferences",
	NumericNodeID(0, 34):    "HasChild",
	nodeIDOrganizes:         "Organizes",
	nodeIDHasComponent:      "HasComponent",
	NumericNodeID(0, 46):    "HasProperty",
	nodeIDHasSubtype:        "HasSubtype",
	nodeIDHasTypeDefinition: "HasTypeDefinition",
	NumericNodeID(0, 36):    "HasEventSource",
	NumericNodeID(0, 48):    "HasNotifier",
	NumericNodeID(0, 37):    "GeneratesEvent",
	NumericNodeID(0, 49):    "AlwaysGeneratesEvent",

	NumericNodeID(0, 1):  "Boolean",
	NumericNodeID(0, 2):  "SByte",
	NumericNodeID(0, 3):  "Byte",
	NumericNodeID(0, 4):  "Int16",
	NumericNodeID(0, 5):  "UInt16",
	NumericNodeID(0, 6):  "Int32",
	NumericNodeID(0, 7):  "UInt32",
	NumericNodeID(0, 8):  "Int64",
	NumericNodeID(0, 9):  "UInt64",
	NumericNodeID(0, 10): "Float",
	NumericNodeID(0, 11): "Double",
	NumericNodeID(0, 12): "String",
	NumericNodeID(0, 13): "DateTime",
	NumericNodeID(0, 14): "Guid",
	NumericNodeID(0, 15): "ByteString",
	NumericNodeID(0, 16): "XmlElement",
	NumericNodeID(0, 17): "NodeId",
	NumericNodeID(0, 18): "ExpandedNodeId",
	NumericNodeID(0, 19): "StatusCode",
	NumericNodeID(0, 20): "QualifiedName",
	NumericNodeID(0, 21): "LocalizedText",
	nodeIDBaseDataType:   "BaseDataType",
}

// lookupNS0Name returns the well-known BrowseName for an ns=0 NodeID. It is
// the aliasNames callback the orchestrator passes to AssembleIntermediateNode
// for every node; an ns=0 id missing from wellKnownNS0Names gets no alias.
func lookupNS0Name(id NodeID) (string, bool) {
	name, ok := wellKnownNS0Names[id]
	return name, ok
}
