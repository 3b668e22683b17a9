package nodesetexporter

import (
	"context"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is a hand-built double for Client, letting the Session be
// exercised without a live OPC UA server.
type fakeClient struct {
	readFunc       func(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	browseFunc     func(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error)
	browseNextFunc func(ctx context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error)
}

func (f *fakeClient) Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	return f.readFunc(ctx, req)
}

func (f *fakeClient) Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return f.browseFunc(ctx, req)
}

func (f *fakeClient) BrowseNext(ctx context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error) {
	return f.browseNextFunc(ctx, req)
}

func (f *fakeClient) Close(ctx context.Context) error { return nil }

func mustVariant(t *testing.T, v interface{}) *ua.Variant {
	t.Helper()
	variant, err := ua.NewVariant(v)
	require.NoError(t, err)
	return variant
}

func TestSessionReadNodeClassesPreservesOrder(t *testing.T) {
	ids := []NodeID{NumericNodeID(0, 85), NumericNodeID(1, 1), NumericNodeID(1, 2)}

	client := &fakeClient{
		readFunc: func(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
			require.Len(t, req.NodesToRead, 3)
			return &ua.ReadResponse{Results: []*ua.DataValue{
				{Status: ua.StatusOK, Value: mustVariant(t, int32(ua.NodeClassObject))},
				{Status: ua.StatusBadNodeIDUnknown},
				{Status: ua.StatusOK, Value: mustVariant(t, int32(ua.NodeClassVariable))},
			}}, nil
		},
	}

	s := NewSession(client, DefaultLimits(), nil)
	results, err := s.ReadNodeClasses(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, NodeClassObject, results[0].Class)
	assert.Error(t, results[1].Err, "a bad status must surface as that entry's error")
	assert.Equal(t, NodeClassVariable, results[2].Class)
	assert.NoError(t, results[2].Err)
}

func TestSessionReadReferencesPagesWithBrowseNext(t *testing.T) {
	first := &ua.ReferenceDescription{
		ReferenceTypeID: ua.NewNumericNodeID(0, 47),
		IsForward:       true,
		NodeID:          &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(1, 100)},
		BrowseName:      &ua.QualifiedName{NamespaceIndex: 1, Name: "A"},
		DisplayName:     &ua.LocalizedText{Text: "A"},
		NodeClass:       ua.NodeClassObject,
	}
	second := &ua.ReferenceDescription{
		ReferenceTypeID: ua.NewNumericNodeID(0, 47),
		IsForward:       true,
		NodeID:          &ua.ExpandedNodeID{NodeID: ua.NewNumericNodeID(1, 101)},
		BrowseName:      &ua.QualifiedName{NamespaceIndex: 1, Name: "B"},
		DisplayName:     &ua.LocalizedText{Text: "B"},
		NodeClass:       ua.NodeClassVariable,
	}

	browseCalled := false
	nextCalled := false
	client := &fakeClient{
		browseFunc: func(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
			browseCalled = true
			require.Len(t, req.NodesToBrowse, 1)
			return &ua.BrowseResponse{Results: []*ua.BrowseResult{
				{StatusCode: ua.StatusOK, References: []*ua.ReferenceDescription{first}, ContinuationPoint: []byte("more")},
			}}, nil
		},
		browseNextFunc: func(ctx context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error) {
			nextCalled = true
			assert.Equal(t, [][]byte{[]byte("more")}, req.ContinuationPoints)
			return &ua.BrowseNextResponse{Results: []*ua.BrowseResult{
				{StatusCode: ua.StatusOK, References: []*ua.ReferenceDescription{second}},
			}}, nil
		},
	}

	s := NewSession(client, DefaultLimits(), nil)
	refs, err := s.ReadReferences(context.Background(), []NodeID{NumericNodeID(1, 1)})
	require.NoError(t, err)
	require.True(t, browseCalled)
	require.True(t, nextCalled)
	require.Len(t, refs, 1)
	require.Len(t, refs[0], 2)
	assert.Equal(t, "A", refs[0][0].TargetBrowseName.Name)
	assert.Equal(t, "B", refs[0][1].TargetBrowseName.Name)
}

func TestSessionReadReferencesChunksByContinuationPointLimit(t *testing.T) {
	var browseSizes []int
	client := &fakeClient{
		browseFunc: func(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
			browseSizes = append(browseSizes, len(req.NodesToBrowse))
			results := make([]*ua.BrowseResult, len(req.NodesToBrowse))
			for i := range results {
				results[i] = &ua.BrowseResult{StatusCode: ua.StatusOK}
			}
			return &ua.BrowseResponse{Results: results}, nil
		},
	}

	limits := DefaultLimits()
	limits.MaxNodesPerBrowse = 4
	limits.MaxBrowseContinuationPoints = 2

	ids := []NodeID{
		NumericNodeID(1, 1), NumericNodeID(1, 2), NumericNodeID(1, 3),
		NumericNodeID(1, 4), NumericNodeID(1, 5),
	}
	s := NewSession(client, limits, nil)
	refs, err := s.ReadReferences(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, refs, 5)
	assert.Equal(t, []int{2, 2, 1}, browseSizes,
		"browse batches must be capped by the continuation-point limit")
}

func TestSessionReadAttributeTuplesScattersByPosition(t *testing.T) {
	varAttrs := attributesForClass(NodeClassVariable)
	objAttrs := attributesForClass(NodeClassObject)

	client := &fakeClient{
		readFunc: func(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
			require.Len(t, req.NodesToRead, len(varAttrs)+len(objAttrs))
			results := make([]*ua.DataValue, len(req.NodesToRead))
			for i, rv := range req.NodesToRead {
				switch AttributeID(rv.AttributeID) {
				case AttributeValueID:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, []int32{1, 2, 3, 4})}
				case AttributeArrayDimensions:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, []int32{2, 2})}
				case AttributeDataType:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, ua.NewNumericNodeID(0, 6))}
				case AttributeValueRank:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, int32(1))}
				case AttributeAccessLevel, AttributeEventNotifier:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, byte(1))}
				case AttributeMinimumSamplingInterval:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, float64(100))}
				case AttributeHistorizing:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, false)}
				case AttributeNodeClass:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, int32(ua.NodeClassVariable))}
				case AttributeBrowseName:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, &ua.QualifiedName{Name: "Temp"})}
				case AttributeDisplayName, AttributeDescription:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, &ua.LocalizedText{Text: "Temp"})}
				case AttributeNodeID:
					results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, rv.NodeID)}
				default:
					results[i] = &ua.DataValue{Status: ua.StatusBadAttributeIDInvalid}
				}
			}
			return &ua.ReadResponse{Results: results}, nil
		},
	}

	s := NewSession(client, DefaultLimits(), nil)
	out, err := s.ReadAttributeTuples(context.Background(), []AttributeTupleRequest{
		{ID: NumericNodeID(1, 1), Class: NodeClassVariable},
		{ID: NumericNodeID(1, 2), Class: NodeClassObject},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	vv, ok := out[0][AttributeValueID].(VariantValue)
	require.True(t, ok)
	arr, ok := vv.Raw.(*ArrayValue)
	require.True(t, ok)
	assert.Equal(t, []uint32{2, 2}, arr.Dimensions,
		"the array dimensions read in the same batch must reach the Value projection")
	assert.Len(t, arr.Elements, 4)

	_, hasValue := out[1][AttributeValueID]
	assert.False(t, hasValue, "an Object carries no Value attribute")
}

func TestSessionReadChunksAtMaxNodesPerRead(t *testing.T) {
	var readSizes []int
	client := &fakeClient{
		readFunc: func(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
			readSizes = append(readSizes, len(req.NodesToRead))
			results := make([]*ua.DataValue, len(req.NodesToRead))
			for i := range results {
				results[i] = &ua.DataValue{Status: ua.StatusOK, Value: mustVariant(t, int32(ua.NodeClassObject))}
			}
			return &ua.ReadResponse{Results: results}, nil
		},
	}

	limits := DefaultLimits()
	limits.MaxNodesPerRead = 2

	s := NewSession(client, limits, nil)
	ids := []NodeID{NumericNodeID(1, 1), NumericNodeID(1, 2), NumericNodeID(1, 3)}
	results, err := s.ReadNodeClasses(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []int{2, 1}, readSizes)
	for _, r := range results {
		assert.Equal(t, NodeClassObject, r.Class)
	}
}

func TestSessionReadServerLimitsMergesOverDefaults(t *testing.T) {
	client := &fakeClient{
		readFunc: func(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
			require.Len(t, req.NodesToRead, 3)
			return &ua.ReadResponse{Results: []*ua.DataValue{
				{Status: ua.StatusOK, Value: mustVariant(t, uint32(250))},  // MaxNodesPerBrowse
				{Status: ua.StatusBadAttributeIDInvalid},                   // MaxBrowseContinuationPoints not exposed
				{Status: ua.StatusOK, Value: mustVariant(t, uint32(5000))}, // MaxNodesPerRead
			}}, nil
		},
	}

	s := NewSession(client, DefaultLimits(), nil)
	limits, err := s.ReadServerLimits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(250), limits.MaxNodesPerBrowse)
	assert.Equal(t, DefaultLimits().MaxBrowseContinuationPoints, limits.MaxBrowseContinuationPoints)
	assert.Equal(t, uint32(5000), limits.MaxNodesPerRead)
}

func TestSessionGetNamespacesStripsIndexZero(t *testing.T) {
	client := &fakeClient{
		readFunc: func(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
			require.Len(t, req.NodesToRead, 1)
			assert.Equal(t, uint32(2255), req.NodesToRead[0].NodeID.IntID())
			return &ua.ReadResponse{Results: []*ua.DataValue{
				{Status: ua.StatusOK, Value: mustVariant(t, []string{
					"http://opcfoundation.org/UA/", "urn:example:one", "urn:example:two",
				})},
			}}, nil
		},
	}

	s := NewSession(client, DefaultLimits(), nil)
	namespaces, err := s.GetNamespaces(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"urn:example:one", "urn:example:two"}, namespaces)
}
