package nodesetexporter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestAdmitRejectsIgnoredClasses(t *testing.T) {
	assert.False(t, admit(NumericNodeID(1, 1), NodeClassMethod, DefaultOptions()))
	assert.False(t, admit(NumericNodeID(1, 1), NodeClassView, DefaultOptions()))
}

func TestAdmitNS0Policy(t *testing.T) {
	opts := DefaultOptions()
	assert.False(t, admit(NumericNodeID(0, 1234), NodeClassObject, opts))

	opts.NS0CustomNodesReadyToWork = true
	assert.True(t, admit(NumericNodeID(0, 1234), NodeClassObject, opts))
	assert.False(t, admit(nodeIDObjects, NodeClassObject, opts), "standard roots stay rejected even when ns=0 custom nodes are allowed")
}

func TestNormalizeHasTypeDefinitionFlipsReversedAndDropsExtra(t *testing.T) {
	self := NumericNodeID(1, 1)
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDHasTypeDefinition, IsForward: false, Target: Expand(NumericNodeID(0, 58))},
		{ReferenceType: nodeIDHasTypeDefinition, IsForward: true, Target: Expand(NumericNodeID(0, 61))},
	}
	out := normalizeHasTypeDefinition(self, refs, zap.NewNop())
	assert.Len(t, out, 1)
	assert.True(t, out[0].IsForward)
	assert.True(t, out[0].Target.NodeID.Equal(NumericNodeID(0, 58)))
}

func TestReplaceAbstractBaseVariableType(t *testing.T) {
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDHasTypeDefinition, IsForward: true, Target: Expand(nodeIDBaseVariableType)},
	}
	out := replaceAbstractBaseVariableType(refs)
	assert.True(t, out[0].Target.NodeID.Equal(nodeIDBaseDataVariableType))
}

func TestStripHierarchicalRemovesBothDirections(t *testing.T) {
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDHasComponent, IsForward: false, Target: Expand(NumericNodeID(1, 1))},
		{ReferenceType: nodeIDHasComponent, IsForward: true, Target: Expand(NumericNodeID(1, 2))},
		{ReferenceType: NumericNodeID(0, 37), IsForward: true, Target: Expand(NumericNodeID(1, 3))}, // GeneratesEvent: not hierarchical
	}
	out := stripHierarchical(refs)
	assert.Len(t, out, 1)
	assert.Equal(t, NumericNodeID(0, 37), out[0].ReferenceType)
}

func TestSynthesizeInverseReferenceStringIdentifierSplitsOnLastDot(t *testing.T) {
	self := StringNodeID(2, "Root.Child.Leaf")
	out := synthesizeInverseReference(self, nil, zap.NewNop())
	assert.Len(t, out, 1)
	assert.False(t, out[0].IsForward)
	assert.Equal(t, nodeIDHasComponent, out[0].ReferenceType)
	assert.True(t, out[0].Target.NodeID.Equal(StringNodeID(2, "Root.Child")))
}

func TestSynthesizeInverseReferenceFallsBackToObjects(t *testing.T) {
	self := NumericNodeID(2, 1)
	out := synthesizeInverseReference(self, nil, zap.NewNop())
	assert.Len(t, out, 1)
	assert.True(t, out[0].Target.NodeID.Equal(nodeIDObjects))
}

func TestSynthesizeInverseReferenceNoOpWhenInverseAlreadyPresent(t *testing.T) {
	self := StringNodeID(2, "Root.Child")
	existing := []ReferenceDescription{
		{ReferenceType: nodeIDOrganizes, IsForward: false, Target: Expand(NumericNodeID(2, 1))},
	}
	out := synthesizeInverseReference(self, existing, zap.NewNop())
	assert.Len(t, out, 1)
	assert.Equal(t, nodeIDOrganizes, out[0].ReferenceType)
}

func TestFilterBrokenReferencesKeepsNS0AndDistinctDropsOthers(t *testing.T) {
	self := NumericNodeID(1, 1)
	distinct := map[NodeID]bool{NumericNodeID(1, 2): true}
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDHasComponent, IsForward: true, Target: Expand(NumericNodeID(0, 58)), TargetNodeClass: NodeClassObjectType},
		{ReferenceType: nodeIDHasComponent, IsForward: true, Target: Expand(NumericNodeID(1, 2)), TargetNodeClass: NodeClassVariable},
		{ReferenceType: nodeIDHasComponent, IsForward: true, Target: Expand(NumericNodeID(1, 999)), TargetNodeClass: NodeClassVariable},
		{ReferenceType: nodeIDHasComponent, IsForward: true, Target: Expand(NumericNodeID(1, 998)), TargetNodeClass: NodeClassMethod},
	}
	out := filterBrokenReferences(self, refs, distinct, zap.NewNop())
	assert.Len(t, out, 2)
	assert.True(t, out[0].Target.NodeID.Equal(NumericNodeID(0, 58)))
	assert.True(t, out[1].Target.NodeID.Equal(NumericNodeID(1, 2)))
}

func TestPruneTypeClassInverseKeepsHasSubtypeAndObjectsTarget(t *testing.T) {
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDHasSubtype, IsForward: false, Target: Expand(nodeIDBaseObjectType)},
		{ReferenceType: nodeIDOrganizes, IsForward: false, Target: Expand(nodeIDObjects)},
		{ReferenceType: nodeIDHasComponent, IsForward: false, Target: Expand(NumericNodeID(1, 5))},
		{ReferenceType: nodeIDHasComponent, IsForward: true, Target: Expand(NumericNodeID(1, 6))},
	}
	out := pruneTypeClassInverse(NodeClassObjectType, refs)
	assert.Len(t, out, 3)
}

func TestPruneTypeClassInverseNoOpForNonTypeClass(t *testing.T) {
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDHasComponent, IsForward: false, Target: Expand(NumericNodeID(1, 5))},
	}
	out := pruneTypeClassInverse(NodeClassObject, refs)
	assert.Len(t, out, 1)
}

func TestResolveParentRestrictsTypeClassToHasSubtype(t *testing.T) {
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDOrganizes, IsForward: false, Target: Expand(nodeIDObjects)},
		{ReferenceType: nodeIDHasSubtype, IsForward: false, Target: Expand(nodeIDBaseObjectType)},
	}
	parent, ok := resolveParent(NodeClassObjectType, refs)
	assert.True(t, ok)
	assert.True(t, parent.NodeID.Equal(nodeIDBaseObjectType))
}

func TestResolveParentNoInverseFails(t *testing.T) {
	refs := []ReferenceDescription{
		{ReferenceType: nodeIDHasComponent, IsForward: true, Target: Expand(NumericNodeID(1, 2))},
	}
	_, ok := resolveParent(NodeClassObject, refs)
	assert.False(t, ok)
}
