package nodesetexporter

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// encoderTarget is the subset of *Encoder the orchestrator drives, narrowed
// to an interface so the orchestrator can be tested against a recording fake
// instead of a real XML tree.
type encoderTarget interface {
	Begin() error
	AddNamespaces(uris []string) error
	AddAliases(entries []Entry) error
	AddNode(node *IntermediateNode) error
	End() error
}

// Orchestrator drives one export end to end: per-start-node dedup,
// node-class prefetch, attribute/reference fetch, the filter-and-repair
// pipeline, parent resolution, alias collection, and emission.
type Orchestrator struct {
	session *Session
	opts    Options
	logger  *zap.Logger
}

// NewOrchestrator builds an Orchestrator bound to session, following opts.
func NewOrchestrator(session *Session, opts Options) *Orchestrator {
	return &Orchestrator{session: session, opts: opts, logger: opts.resolveLogger()}
}

// Run exports every start-node list in nodeLists through enc. nodeLists maps
// a start-node key to the list of ExpandedNodeIds to export for that key
// (list[0] is always the start node). Keys are processed in sorted order so
// two runs over the same input produce byte-identical output.
func (o *Orchestrator) Run(ctx context.Context, nodeLists map[string][]ExpandedNodeID, enc encoderTarget) StatusResult {
	if err := o.checkNS0StartNodes(nodeLists); err != nil {
		return Fail(SubCodeFailedCheckNs0StartNodes, err)
	}

	if err := enc.Begin(); err != nil {
		return Fail(SubCodeBeginFail, err)
	}

	namespacesStart := time.Now()
	namespaces, err := o.session.GetNamespaces(ctx)
	if err != nil {
		return Fail(SubCodeGetNamespacesFail, err)
	}
	o.logPhase("GetNamespaces", namespacesStart)

	if err := enc.AddNamespaces(namespaces); err != nil {
		return Fail(SubCodeExportNamespacesFail, err)
	}

	aliases := NewAliasTable()

	for _, key := range sortedKeys(nodeLists) {
		list := distinctExpandedNodeIDs(nodeLists[key])
		if len(list) == 0 {
			continue
		}

		classStart := time.Now()
		classes, st := o.readNodeClasses(ctx, list)
		if !st.Good {
			return st
		}
		o.logPhase(fmt.Sprintf("GetNodeClasses[%s]", key), classStart)

		fetchStart := time.Now()
		models, err := o.buildModels(ctx, key, list, classes, aliases)
		if err != nil {
			return Fail(SubCodeGetNodesDataFail, err)
		}
		o.logPhase(fmt.Sprintf("FetchAndRepair[%s]", key), fetchStart)

		encodeStart := time.Now()
		for _, m := range models {
			if err := enc.AddNode(m); err != nil {
				return Fail(SubCodeExportNodesFail, err)
			}
		}
		o.logPhase(fmt.Sprintf("EncodeNodes[%s]", key), encodeStart)
	}

	if err := enc.AddAliases(aliases.Entries()); err != nil {
		return Fail(SubCodeExportAliasesFail, err)
	}

	if err := enc.End(); err != nil {
		return Fail(SubCodeEndFail, err)
	}

	return Ok()
}

// readNodeClasses fetches the class of every node in list. A per-entry bad
// status is fatal, with one exception: a start node that does not exist on
// the server is tolerated when flat mode is set to fabricate it.
func (o *Orchestrator) readNodeClasses(ctx context.Context, list []ExpandedNodeID) ([]NodeClass, StatusResult) {
	ids := make([]NodeID, len(list))
	for i, e := range list {
		ids[i] = e.NodeID
	}
	results, err := o.session.ReadNodeClasses(ctx, ids)
	if err != nil {
		return nil, Fail(SubCodeGetNodeClassesFail, err)
	}

	classes := make([]NodeClass, len(results))
	for i, r := range results {
		if r.Err != nil {
			if i == 0 && o.opts.FlatListOfNodes.IsEnable && o.opts.FlatListOfNodes.CreateMissingStartNode && !isStandardRoot(ids[0]) {
				classes[i] = NodeClassUnspecified
				continue
			}
			return nil, Fail(SubCodeGetNodeClassesFail, r.Err)
		}
		classes[i] = r.Class
	}
	return classes, Ok()
}

// logPhase logs elapsed wall-clock time for one phase at Info when the
// performance timer option is set.
func (o *Orchestrator) logPhase(phase string, started time.Time) {
	if !o.opts.IsPerfTimerEnable {
		return
	}
	o.logger.Info("export phase completed", zap.String("phase", phase), zap.Duration("elapsed", time.Since(started)))
}

// buildModels fetches references and attributes for every node in list,
// applies the per-node pipeline (admission, repair, start-node handling,
// parent resolution), and returns the resulting Intermediate Nodes in list
// order, collecting aliases into the shared table as it goes.
func (o *Orchestrator) buildModels(ctx context.Context, key string, list []ExpandedNodeID, classes []NodeClass, aliases *AliasTable) ([]*IntermediateNode, error) {
	refs := make([][]ReferenceDescription, len(list))
	attrs := make([]map[AttributeID]AttributeValue, len(list))

	// A flat-mode start node with CreateMissingStartNode set and a class of
	// Unspecified does not exist on the server, so nothing is fetched for it.
	fabricateStart := o.opts.FlatListOfNodes.IsEnable && o.opts.FlatListOfNodes.CreateMissingStartNode &&
		classes[0] == NodeClassUnspecified && !isStandardRoot(list[0].NodeID)

	fetch := make([]int, 0, len(list))
	for i := range list {
		if i == 0 && fabricateStart {
			continue
		}
		fetch = append(fetch, i)
	}

	batch := o.opts.NumberOfMaxNodesToRequestData
	if batch <= 0 {
		batch = len(fetch)
	}
	for start := 0; start < len(fetch); start += batch {
		window := fetch[start:min(start+batch, len(fetch))]

		ids := make([]NodeID, len(window))
		reqs := make([]AttributeTupleRequest, len(window))
		for j, i := range window {
			ids[j] = list[i].NodeID
			reqs[j] = AttributeTupleRequest{ID: list[i].NodeID, Class: classes[i]}
		}

		refsBatch, err := o.session.ReadReferences(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("fetching references: %w", err)
		}
		attrsBatch, err := o.session.ReadAttributeTuples(ctx, reqs)
		if err != nil {
			return nil, fmt.Errorf("fetching attributes: %w", err)
		}
		for j, i := range window {
			refs[i] = refsBatch[j]
			attrs[i] = attrsBatch[j]
		}
	}

	if fabricateStart {
		classes[0], attrs[0], refs[0] = o.fabricateStartNode(list[0].NodeID)
	}

	distinct := make(map[NodeID]bool, len(list))
	for _, e := range list {
		distinct[e.NodeID] = true
	}

	models := make([]*IntermediateNode, 0, len(list))
	for i, e := range list {
		nc := classes[i]
		nid := e.NodeID

		if !admit(nid, nc, o.opts) {
			o.logger.Debug("node rejected by admission predicate",
				zap.String("node", nid.String()), zap.String("class", nc.String()))
			continue
		}

		nodeRefs := repairReferences(nid, nc, refs[i], distinct, o.opts, o.logger)

		switch {
		case i == 0:
			if o.opts.FlatListOfNodes.IsEnable && !fabricateStart {
				// The synthetic root absorbs all children; an existing start
				// node's own references do not survive flat mode.
				nodeRefs = nil
			}
			nodeRefs = o.applyStartNodeHandling(nid, nc, nodeRefs)
		case o.opts.FlatListOfNodes.IsEnable:
			nodeRefs = append([]ReferenceDescription{{
				ReferenceType: nodeIDOrganizes,
				IsForward:     false,
				Target:        list[0],
			}}, nodeRefs...)
		}

		parent, ok := resolveParent(nc, nodeRefs)
		if !ok {
			o.logger.Warn("dropping node with no resolvable parent after repair",
				zap.String("node", nid.String()), zap.String("key", key))
			continue
		}

		model := AssembleIntermediateNode(e, parent, nc, nodeRefs, attrs[i], lookupNS0Name)
		collectAliases(model, aliases)
		models = append(models, model)
	}

	return models, nil
}

// fabricateStartNode builds the stand-in for a flat-mode start node that
// does not exist on the server: an Object with an auto-generated
// BrowseName/DisplayName/Description and a forward HasTypeDefinition to
// FolderType.
func (o *Orchestrator) fabricateStartNode(nid NodeID) (NodeClass, map[AttributeID]AttributeValue, []ReferenceDescription) {
	o.logger.Info("fabricating missing start node", zap.String("node", nid.String()))

	ident := nid.identifierOnly()
	attrs := map[AttributeID]AttributeValue{
		AttributeBrowseName:  QualifiedNameValue{NamespaceIndex: nid.Namespace, Name: ident},
		AttributeDisplayName: LocalizedTextValue{Text: ident},
		AttributeDescription: LocalizedTextValue{Text: "This is autogenerated start node."},
	}
	refs := []ReferenceDescription{{
		ReferenceType: nodeIDHasTypeDefinition,
		IsForward:     true,
		Target:        Expand(nodeIDFolderType),
	}}
	return NodeClassObject, attrs, refs
}

// applyStartNodeHandling adjusts the first node of a batch after repair:
// a Type-class start node missing its supertype edge gets one injected, and
// a start node left without a link to Objects gets the fallback parent (plus
// the abstract-variable backlinks when that flat-mode option is set).
func (o *Orchestrator) applyStartNodeHandling(nid NodeID, nc NodeClass, refs []ReferenceDescription) []ReferenceDescription {
	if nc.IsTypeClass() && !hasInverseHasSubtype(refs) {
		if super, ok := supertypeForTypeClass(nc); ok {
			refs = append(refs, ReferenceDescription{
				ReferenceType: nodeIDHasSubtype,
				IsForward:     false,
				Target:        Expand(super),
			})
		}
	}

	if !hasReferenceTo(refs, nodeIDObjects) && !isStandardRoot(nid) {
		refs = append(refs, ReferenceDescription{
			ReferenceType: nodeIDOrganizes,
			IsForward:     false,
			Target:        Expand(o.opts.parentReplacer()),
		})

		if o.opts.FlatListOfNodes.IsEnable && o.opts.FlatListOfNodes.AllowAbstractVariable {
			refs = append(refs,
				ReferenceDescription{ReferenceType: nodeIDHasComponent, IsForward: false, Target: Expand(nodeIDBaseObjectType)},
				ReferenceDescription{ReferenceType: nodeIDHasComponent, IsForward: false, Target: Expand(nodeIDBaseDataVariableType)},
			)
		}
	}

	return refs
}

func hasInverseHasSubtype(refs []ReferenceDescription) bool {
	for _, r := range refs {
		if !r.IsForward && r.ReferenceType.Equal(nodeIDHasSubtype) {
			return true
		}
	}
	return false
}

func hasReferenceTo(refs []ReferenceDescription, target NodeID) bool {
	for _, r := range refs {
		if r.Target.NodeID.Equal(target) {
			return true
		}
	}
	return false
}

// collectAliases records one assembled model's DataType alias (if any) and
// each of its reference-type aliases into the shared table, first wins.
func collectAliases(model *IntermediateNode, aliases *AliasTable) {
	if model.DataTypeAlias != "" {
		if dv, ok := model.Attrs[AttributeDataType].(NodeIDValue); ok {
			aliases.TryEmplace(model.DataTypeAlias, dv.Value)
		}
	}
	for i, name := range model.RefTypeAliases {
		aliases.TryEmplace(name, model.References[i].ReferenceType)
	}
}

// checkNS0StartNodes fails the export before anything is written when a
// start node violates the ns=0 policy: in non-flat mode, start nodes must be
// outside ns=0 unless NS0CustomNodesReadyToWork is set and the start node is
// not a standard root; in flat mode, i=85 is explicitly permitted. Every
// offending start node is reported in one pass, not just the first.
func (o *Orchestrator) checkNS0StartNodes(nodeLists map[string][]ExpandedNodeID) error {
	var violations error
	for _, key := range sortedKeys(nodeLists) {
		list := nodeLists[key]
		if len(list) == 0 {
			continue
		}
		start := list[0].NodeID
		if start.Namespace != 0 {
			continue
		}
		if o.opts.FlatListOfNodes.IsEnable && start.Equal(nodeIDObjects) {
			continue
		}
		if o.opts.NS0CustomNodesReadyToWork && !isStandardRoot(start) {
			continue
		}
		violations = multierr.Append(violations, fmt.Errorf("start node %s (key %q) is in ns=0 and not permitted by current options", start, key))
	}
	return violations
}

// distinctExpandedNodeIDs dedups by NodeId, keeping only the first
// occurrence of each and preserving order.
func distinctExpandedNodeIDs(in []ExpandedNodeID) []ExpandedNodeID {
	seen := make(map[NodeID]bool, len(in))
	out := make([]ExpandedNodeID, 0, len(in))
	for _, e := range in {
		if seen[e.NodeID] {
			continue
		}
		seen[e.NodeID] = true
		out = append(out, e)
	}
	return out
}

func sortedKeys(nodeLists map[string][]ExpandedNodeID) []string {
	keys := make([]string, 0, len(nodeLists))
	for k := range nodeLists {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
