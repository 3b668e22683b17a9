// Package nstest provides an in-memory OPC UA address-space fixture for
// exercising the exporter without a live server.
package nstest

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gopcua/opcua/ua"
)

// Node is one fixture address-space entry: its identity, the raw attribute
// values a Read can return (keyed by AttributeID), and its references in
// Browse result order.
type Node struct {
	ID         *ua.NodeID
	Class      ua.NodeClass
	Attrs      map[uint32]interface{}
	References []*ua.ReferenceDescription
}

// Server is a fixed, in-memory address space: a set of Nodes keyed by their
// NodeId's string form.
type Server struct {
	nodes map[string]*Node
}

// NewServer builds an empty address space.
func NewServer() *Server {
	return &Server{nodes: make(map[string]*Node)}
}

// AddNode inserts or replaces a Node.
func (s *Server) AddNode(n *Node) *Server {
	s.nodes[n.ID.String()] = n
	return s
}

func (s *Server) node(id *ua.NodeID) (*Node, bool) {
	n, ok := s.nodes[id.String()]
	return n, ok
}

// Client implements nodesetexporter.Client against a Server, paging Browse
// results across BrowseNext calls when pageSize is positive and a node has
// more references than fit in one page.
type Client struct {
	server   *Server
	pageSize int
}

// NewClient builds a Client reading from server. pageSize <= 0 means every
// Browse returns all of a node's references in one call (no BrowseNext
// needed); a positive pageSize caps how many references one Browse/
// BrowseNext call returns, forcing callers through continuation points.
func NewClient(server *Server, pageSize int) *Client {
	return &Client{server: server, pageSize: pageSize}
}

// Close is a no-op: the fixture owns no external resource.
func (c *Client) Close(ctx context.Context) error { return nil }

// Read answers a ReadRequest from the fixture address space. A node or
// attribute absent from the fixture reports the corresponding Bad status
// rather than failing the call, the same way a real server would.
func (c *Client) Read(_ context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	results := make([]*ua.DataValue, len(req.NodesToRead))
	for i, rv := range req.NodesToRead {
		n, ok := c.server.node(rv.NodeID)
		if !ok {
			results[i] = &ua.DataValue{Status: ua.StatusBadNodeIDUnknown}
			continue
		}
		raw, ok := n.Attrs[uint32(rv.AttributeID)]
		if !ok {
			results[i] = &ua.DataValue{Status: ua.StatusBadAttributeIDInvalid}
			continue
		}
		variant, err := ua.NewVariant(variantCompatible(raw))
		if err != nil {
			return nil, fmt.Errorf("nstest: building variant for %s attribute %d: %w", rv.NodeID, rv.AttributeID, err)
		}
		results[i] = &ua.DataValue{Status: ua.StatusOK, Value: variant}
	}
	return &ua.ReadResponse{Results: results}, nil
}

// variantCompatible rewrites fixture attribute values into shapes
// ua.NewVariant accepts: enum values become int32 (the wire encoding a real
// server uses) and the struct-typed ua values become pointers.
func variantCompatible(raw interface{}) interface{} {
	switch v := raw.(type) {
	case ua.NodeClass:
		return int32(v)
	case ua.QualifiedName:
		return &v
	case ua.LocalizedText:
		return &v
	default:
		return raw
	}
}

// Browse answers a BrowseRequest, returning the first page of each
// requested node's fixture references.
func (c *Client) Browse(_ context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	results := make([]*ua.BrowseResult, len(req.NodesToBrowse))
	for i, desc := range req.NodesToBrowse {
		n, ok := c.server.node(desc.NodeID)
		if !ok {
			results[i] = &ua.BrowseResult{StatusCode: ua.StatusBadNodeIDUnknown}
			continue
		}
		page, cp := c.page(desc.NodeID.String(), n.References, 0)
		results[i] = &ua.BrowseResult{StatusCode: ua.StatusOK, References: page, ContinuationPoint: cp}
	}
	return &ua.BrowseResponse{Results: results}, nil
}

// BrowseNext answers a BrowseNextRequest by decoding each continuation
// point's node key and offset and returning the next page from there.
func (c *Client) BrowseNext(_ context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error) {
	results := make([]*ua.BrowseResult, len(req.ContinuationPoints))
	for i, cp := range req.ContinuationPoints {
		nodeKey, offset, err := decodeContinuationPoint(cp)
		if err != nil {
			results[i] = &ua.BrowseResult{StatusCode: ua.StatusBadContinuationPointInvalid}
			continue
		}
		n, ok := c.server.nodes[nodeKey]
		if !ok {
			results[i] = &ua.BrowseResult{StatusCode: ua.StatusBadNodeIDUnknown}
			continue
		}
		page, next := c.page(nodeKey, n.References, offset)
		results[i] = &ua.BrowseResult{StatusCode: ua.StatusOK, References: page, ContinuationPoint: next}
	}
	return &ua.BrowseNextResponse{Results: results}, nil
}

// page slices refs[offset:] to at most pageSize entries, encoding a
// continuation point keyed by nodeKey when references remain beyond the
// returned page.
func (c *Client) page(nodeKey string, refs []*ua.ReferenceDescription, offset int) ([]*ua.ReferenceDescription, []byte) {
	if offset >= len(refs) {
		return nil, nil
	}
	end := len(refs)
	if c.pageSize > 0 && offset+c.pageSize < end {
		end = offset + c.pageSize
	}
	page := refs[offset:end]
	if end >= len(refs) {
		return page, nil
	}
	return page, encodeContinuationPoint(nodeKey, end)
}

// encodeContinuationPoint packs a node key and offset into a token of the
// form "<nodeKey>:<offset>". The node key itself may contain ':' (e.g.
// "ns=2;s=Foo:Bar"), so decoding splits on the LAST ':' rather than the
// first.
func encodeContinuationPoint(nodeKey string, offset int) []byte {
	return []byte(nodeKey + ":" + strconv.Itoa(offset))
}

func decodeContinuationPoint(cp []byte) (string, int, error) {
	s := string(cp)
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("nstest: malformed continuation point %q", s)
	}
	offset, err := strconv.Atoi(s[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("nstest: malformed continuation point %q: %w", s, err)
	}
	return s[:idx], offset, nil
}
