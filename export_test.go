package nodesetexporter

import (
	"bytes"
	"context"
	"testing"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xydan83/nodesetexporter/nstest"
)

func TestExportNodesetWritesDocumentToStream(t *testing.T) {
	n1 := ua.NewNumericNodeID(2, 1)
	organizes := ua.NewNumericNodeID(0, 35)
	objects := ua.NewNumericNodeID(0, 85)

	server := nstest.NewServer()
	server.AddNode(&nstest.Node{
		ID:    n1,
		Class: ua.NodeClassObject,
		Attrs: objectAttrs("Root"),
		References: []*ua.ReferenceDescription{
			invRef(organizes, objects, ua.NodeClassObject),
		},
	})

	session := NewSession(nstest.NewClient(server, 0), DefaultLimits(), zap.NewNop())

	var out bytes.Buffer
	nodeLists := map[string][]ExpandedNodeID{
		"ns=2;i=1": {Expand(NumericNodeID(2, 1))},
	}
	status := ExportNodeset(context.Background(), session, nodeLists, StreamDestination(&out), DefaultOptions())
	require.True(t, status.Good, "status: %+v", status)
	assert.Contains(t, out.String(), "<UANodeSet")
	assert.Contains(t, out.String(), `NodeId="ns=2;i=1"`)
}

func TestExportNodesetFailsWithNoDestination(t *testing.T) {
	n1 := ua.NewNumericNodeID(2, 1)
	organizes := ua.NewNumericNodeID(0, 35)
	objects := ua.NewNumericNodeID(0, 85)

	server := nstest.NewServer()
	server.AddNode(&nstest.Node{
		ID:    n1,
		Class: ua.NodeClassObject,
		Attrs: objectAttrs("Root"),
		References: []*ua.ReferenceDescription{
			invRef(organizes, objects, ua.NodeClassObject),
		},
	})

	session := NewSession(nstest.NewClient(server, 0), DefaultLimits(), zap.NewNop())
	nodeLists := map[string][]ExpandedNodeID{
		"ns=2;i=1": {Expand(NumericNodeID(2, 1))},
	}
	status := ExportNodeset(context.Background(), session, nodeLists, Destination{}, DefaultOptions())
	assert.False(t, status.Good)
	assert.Equal(t, SubCodeEndFail, status.SubCode)
}
