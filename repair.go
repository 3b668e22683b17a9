package nodesetexporter

import (
	"strings"

	"go.uber.org/zap"
)

// admit is the admission predicate: a node is rejected when its class is
// ignored, or it is an ns=0 node the options don't permit.
func admit(nid NodeID, nc NodeClass, opts Options) bool {
	if nc.IsIgnored() {
		return false
	}
	if nid.Namespace == 0 {
		if !opts.NS0CustomNodesReadyToWork {
			return false
		}
		if isStandardRoot(nid) {
			return false
		}
	}
	return true
}

// normalizeHasTypeDefinition is repair step 1: any inverse HasTypeDefinition
// reference is flipped to forward (some servers emit it reversed), and all
// but the first HasTypeDefinition reference on a node are dropped. Per OPC
// UA Part 3 §7.13, a source Object/Variable has exactly one such reference.
func normalizeHasTypeDefinition(self NodeID, refs []ReferenceDescription, logger *zap.Logger) []ReferenceDescription {
	out := make([]ReferenceDescription, 0, len(refs))
	seen := false
	for _, r := range refs {
		if r.ReferenceType.Equal(nodeIDHasTypeDefinition) {
			if seen {
				logger.Warn("dropping extra HasTypeDefinition reference",
					zap.String("node", self.String()),
					zap.String("target", r.Target.String()))
				continue
			}
			seen = true
			if !r.IsForward {
				logger.Warn("flipping reversed HasTypeDefinition reference to forward",
					zap.String("node", self.String()),
					zap.String("target", r.Target.String()))
				r.IsForward = true
			}
		}
		out = append(out, r)
	}
	return out
}

// replaceAbstractBaseVariableType is repair step 2: a HasTypeDefinition
// reference targeting the abstract BaseVariableType (ns=0,i=62) is rewritten
// to BaseDataVariableType (ns=0,i=63), since the abstract form cannot be
// instantiated by the NodeSet2 loader.
func replaceAbstractBaseVariableType(refs []ReferenceDescription) []ReferenceDescription {
	for i, r := range refs {
		if r.ReferenceType.Equal(nodeIDHasTypeDefinition) && r.IsForward && r.Target.NodeID.Equal(nodeIDBaseVariableType) {
			refs[i].Target.NodeID = nodeIDBaseDataVariableType
		}
	}
	return refs
}

// stripHierarchical is repair step 4 (flat-mode path): delete every
// hierarchical reference, both directions, from a node. The
// parent-reassignment step in the orchestrator re-hooks children onto the
// synthetic root afterward.
func stripHierarchical(refs []ReferenceDescription) []ReferenceDescription {
	out := refs[:0]
	for _, r := range refs {
		if r.IsHierarchical() {
			continue
		}
		out = append(out, r)
	}
	return out
}

// hasInverseReference reports whether refs contains any inverse reference.
func hasInverseReference(refs []ReferenceDescription) bool {
	for _, r := range refs {
		if !r.IsForward {
			return true
		}
	}
	return false
}

// synthesizeInverseReference is repair step 3: when, after step 1, a node
// still has no inverse reference, synthesize one. If the node's own NodeId
// is a string identifier containing '.', the target is the string prefix up
// to the last '.'  and the reference type is HasComponent; otherwise the
// target is i=85 (Objects).
func synthesizeInverseReference(self NodeID, refs []ReferenceDescription, logger *zap.Logger) []ReferenceDescription {
	if hasInverseReference(refs) {
		return refs
	}

	target := nodeIDObjects
	if self.Kind == IdentifierString {
		if idx := strings.LastIndex(self.Str, "."); idx >= 0 {
			target = StringNodeID(self.Namespace, self.Str[:idx])
		}
	}

	logger.Warn("synthesizing missing inverse reference",
		zap.String("node", self.String()),
		zap.String("synthesized_parent", target.String()))

	return append(refs, ReferenceDescription{
		ReferenceType: nodeIDHasComponent,
		IsForward:     false,
		Target:        Expand(target),
	})
}

// filterBrokenReferences is repair step 5: remove any reference whose
// target is neither ns=0 nor in the current start-node's distinct set. A
// reference whose target class is one of the ignored classes is also
// removed, but logged with a distinct message since that is an expected
// shape rather than a broken link.
func filterBrokenReferences(self NodeID, refs []ReferenceDescription, distinct map[NodeID]bool, logger *zap.Logger) []ReferenceDescription {
	out := refs[:0]
	for _, r := range refs {
		if r.Target.InNamespaceZero() || distinct[r.Target.NodeID] {
			out = append(out, r)
			continue
		}
		if r.TargetNodeClass.IsIgnored() {
			logger.Debug("dropping reference to an ignored-class target",
				zap.String("node", self.String()),
				zap.String("target", r.Target.String()),
				zap.String("target_class", r.TargetNodeClass.String()))
			continue
		}
		logger.Warn("dropping reference to a node outside the exported set",
			zap.String("node", self.String()),
			zap.String("target", r.Target.String()))
	}
	return out
}

// pruneTypeClassInverse is repair step 6: on a Type-class node, remove every
// inverse reference whose reference type is not HasSubtype, except an
// inverse reference targeting i=85 — NodeSet2 loaders reconstruct other
// inverse references on Type-class nodes automatically.
func pruneTypeClassInverse(nc NodeClass, refs []ReferenceDescription) []ReferenceDescription {
	if !nc.IsTypeClass() {
		return refs
	}
	out := refs[:0]
	for _, r := range refs {
		if r.IsForward || r.ReferenceType.Equal(nodeIDHasSubtype) || r.Target.NodeID.Equal(nodeIDObjects) {
			out = append(out, r)
		}
	}
	return out
}

// repairReferences runs the full reference-repair pipeline for one node:
// HasTypeDefinition normalization, abstract-type replacement, then either
// the flat-mode strip or the broken-reference filter followed by
// inverse-reference synthesis, and finally type-class pruning.
//
// The broken-reference filter runs BEFORE synthesis so a reference the
// synthesis step manufactures can never be judged broken by the very filter
// meant to catch links to nodes outside the exported set: the synthesized
// target (a dotted-string parent, say) is usually not itself part of the
// current start-node's distinct set.
func repairReferences(self NodeID, nc NodeClass, refs []ReferenceDescription, distinct map[NodeID]bool, opts Options, logger *zap.Logger) []ReferenceDescription {
	refs = normalizeHasTypeDefinition(self, refs, logger)
	refs = replaceAbstractBaseVariableType(refs)

	if opts.FlatListOfNodes.IsEnable {
		refs = stripHierarchical(refs)
	} else {
		refs = filterBrokenReferences(self, refs, distinct, logger)
		refs = synthesizeInverseReference(self, refs, logger)
	}

	refs = pruneTypeClassInverse(nc, refs)
	return refs
}

// resolveParent walks the already-filtered reference list and returns the
// first inverse reference's target, restricted to HasSubtype for Type
// classes. It returns (zero, false) when no parent can be produced, which
// causes the node to be skipped.
func resolveParent(nc NodeClass, refs []ReferenceDescription) (ExpandedNodeID, bool) {
	for _, r := range refs {
		if r.IsForward {
			continue
		}
		if nc.IsTypeClass() && !r.ReferenceType.Equal(nodeIDHasSubtype) {
			continue
		}
		return r.Target, true
	}
	return ExpandedNodeID{}, false
}
