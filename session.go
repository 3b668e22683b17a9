package nodesetexporter

import (
	"context"
	"fmt"
	"sync"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"
)

// Client is the subset of *opcua.Client the Session depends on. Narrowing to
// an interface lets the orchestrator and repair pipeline tests run against a
// fake address space instead of a live server.
type Client interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error)
	BrowseNext(ctx context.Context, req *ua.BrowseNextRequest) (*ua.BrowseNextResponse, error)
	Close(ctx context.Context) error
}

// Limits bounds how aggressively the Session batches requests against the
// server. Servers advertise their own caps through the ServerCapabilities
// OperationLimits nodes; ReadServerLimits fetches them.
type Limits struct {
	// MaxNodesPerBrowse caps how many BrowseDescriptions go into one Browse
	// request. Zero means browse everything in a single request.
	MaxNodesPerBrowse uint32

	// MaxBrowseContinuationPoints caps how many paging cursors may be
	// outstanding at once; Browse batches are shrunk to stay under it.
	MaxBrowseContinuationPoints uint16

	// RequestedMaxReferencesPerNode is the per-entry result cap passed to
	// Browse; it governs how many BrowseNext round trips a node may need,
	// not whether references are dropped.
	RequestedMaxReferencesPerNode uint32

	// MaxNodesPerRead caps how many ReadValueIds go into one Read request.
	// Zero means read everything in a single request.
	MaxNodesPerRead uint32
}

// DefaultLimits returns conservative built-in caps for servers that do not
// advertise their own.
func DefaultLimits() Limits {
	return Limits{
		MaxNodesPerBrowse:             100,
		MaxBrowseContinuationPoints:   10,
		RequestedMaxReferencesPerNode: 1000,
		MaxNodesPerRead:               1000,
	}
}

// Standard NodeIds of the ServerCapabilities limit variables (Part 5).
var (
	nodeIDMaxBrowseContinuationPoints = NumericNodeID(0, 2735)
	nodeIDMaxNodesPerRead             = NumericNodeID(0, 11705)
	nodeIDMaxNodesPerBrowse           = NumericNodeID(0, 11710)
)

// Session wraps one connected OPC UA client and exposes the four read-shaped
// batch operations the rest of the exporter needs, translating between this
// package's portable types and the client library's wire types at every
// boundary crossing. Responses are mapped back to requests strictly by
// position, never by NodeId lookup.
type Session struct {
	client Client
	limits Limits
	logger *zap.Logger

	mu      sync.Mutex
	rawConn *opcua.Client // non-nil only when Dial created the connection itself
}

// NewSession wraps an already-connected Client (typically a live
// *opcua.Client, or a fake in tests).
func NewSession(client Client, limits Limits, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{client: client, limits: limits, logger: logger}
}

// Dial builds and connects a new *opcua.Client from cfg, selecting an
// endpoint matching the configured security settings, and returns a Session
// owning it. Close on the returned Session disconnects it.
func Dial(ctx context.Context, cfg ConnectionConfig, limits Limits, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection config: %w", err)
	}

	endpoints, err := opcua.GetEndpoints(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to get endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available at %s", cfg.Endpoint)
	}

	ep := selectEndpoint(endpoints, cfg.SecurityPolicy, cfg.SecurityMode)
	if ep == nil {
		return nil, fmt.Errorf("no suitable endpoint found for security settings")
	}

	opts := []opcua.Option{
		opcua.SecurityFromEndpoint(ep, ua.UserTokenTypeAnonymous),
		opcua.RequestTimeout(cfg.RequestTimeout),
	}
	switch cfg.Auth.Type {
	case "username_password":
		opts = append(opts, opcua.AuthUsername(cfg.Auth.Username, cfg.Auth.Password))
	case "certificate":
		opts = append(opts, opcua.CertificateFile(cfg.TLS.CertFile), opcua.PrivateKeyFile(cfg.TLS.KeyFile))
	default:
		opts = append(opts, opcua.AuthAnonymous())
	}

	client, err := opcua.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OPC UA client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to OPC UA server: %w", err)
	}

	logger.Info("connected to OPC UA server",
		zap.String("endpoint", ep.EndpointURL),
		zap.String("security_policy", ep.SecurityPolicyURI),
		zap.String("security_mode", ep.SecurityMode.String()))

	return &Session{client: client, limits: limits, logger: logger, rawConn: client}, nil
}

// Close disconnects the underlying client if Dial created it; it is a
// no-op for a Session built from a caller-supplied Client.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rawConn == nil {
		return nil
	}
	if err := s.rawConn.Close(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from OPC UA server: %w", err)
	}
	s.rawConn = nil
	return nil
}

// selectEndpoint picks the endpoint matching the configured security
// policy/mode, falling back to the first None-mode endpoint and finally to
// the first endpoint offered.
func selectEndpoint(endpoints []*ua.EndpointDescription, policy, mode string) *ua.EndpointDescription {
	policyURI := map[string]string{
		"None":                  ua.SecurityPolicyURINone,
		"Basic256":              "http://opcfoundation.org/UA/SecurityPolicy#Basic256",
		"Basic256Sha256":        ua.SecurityPolicyURIBasic256Sha256,
		"Aes128_Sha256_RsaOaep": "http://opcfoundation.org/UA/SecurityPolicy#Aes128_Sha256_RsaOaep",
		"Aes256_Sha256_RsaPss":  "http://opcfoundation.org/UA/SecurityPolicy#Aes256_Sha256_RsaPss",
	}[policy]
	modeVal := map[string]ua.MessageSecurityMode{
		"None":           ua.MessageSecurityModeNone,
		"Sign":           ua.MessageSecurityModeSign,
		"SignAndEncrypt": ua.MessageSecurityModeSignAndEncrypt,
	}[mode]

	for _, ep := range endpoints {
		if ep.SecurityPolicyURI == policyURI && ep.SecurityMode == modeVal {
			return ep
		}
	}
	for _, ep := range endpoints {
		if ep.SecurityMode == ua.MessageSecurityModeNone {
			return ep
		}
	}
	if len(endpoints) > 0 {
		return endpoints[0]
	}
	return nil
}

// ReadServerLimits reads the server-advertised operation limits and merges
// them over the built-in defaults. A limit the server does not expose keeps
// its default.
func (s *Session) ReadServerLimits(ctx context.Context) (Limits, error) {
	limits := DefaultLimits()
	toRead := []*ua.ReadValueID{
		{NodeID: nodeIDToUA(nodeIDMaxNodesPerBrowse), AttributeID: ua.AttributeIDValue},
		{NodeID: nodeIDToUA(nodeIDMaxBrowseContinuationPoints), AttributeID: ua.AttributeIDValue},
		{NodeID: nodeIDToUA(nodeIDMaxNodesPerRead), AttributeID: ua.AttributeIDValue},
	}
	results, err := s.read(ctx, toRead)
	if err != nil {
		return limits, fmt.Errorf("reading server operation limits: %w", err)
	}
	if v, ok := statusOKUint(results[0]); ok && v > 0 {
		limits.MaxNodesPerBrowse = uint32(v)
	}
	if v, ok := statusOKUint(results[1]); ok && v > 0 {
		limits.MaxBrowseContinuationPoints = uint16(v)
	}
	if v, ok := statusOKUint(results[2]); ok && v > 0 {
		limits.MaxNodesPerRead = uint32(v)
	}
	return limits, nil
}

func statusOKUint(dv *ua.DataValue) (uint64, bool) {
	if dv == nil || dv.Status != ua.StatusOK || dv.Value == nil {
		return 0, false
	}
	return toUint64(dv.Value.Value())
}

func isBadStatus(c ua.StatusCode) bool       { return uint32(c)&0x80000000 != 0 }
func isUncertainStatus(c ua.StatusCode) bool { return uint32(c)&0x40000000 != 0 }

// NodeClassResult is one entry of a ReadNodeClasses response: the class the
// server reported, or the per-entry failure when its status came back bad.
type NodeClassResult struct {
	Class NodeClass
	Err   error
}

// ReadNodeClasses batches a NodeClass read for every id in ids, preserving
// positional order: result[i] corresponds to ids[i]. A per-entry bad status
// surfaces as that entry's Err (the caller decides whether it is fatal); an
// uncertain status is logged and the reported class kept.
func (s *Session) ReadNodeClasses(ctx context.Context, ids []NodeID) ([]NodeClassResult, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	toRead := make([]*ua.ReadValueID, len(ids))
	for i, id := range ids {
		toRead[i] = &ua.ReadValueID{NodeID: nodeIDToUA(id), AttributeID: ua.AttributeIDNodeClass}
	}

	results, err := s.read(ctx, toRead)
	if err != nil {
		return nil, fmt.Errorf("reading node classes: %w", err)
	}

	out := make([]NodeClassResult, len(ids))
	for i, dv := range results {
		if isBadStatus(dv.Status) || dv.Value == nil {
			out[i] = NodeClassResult{Class: NodeClassUnspecified,
				Err: fmt.Errorf("node class of %s: status %v", ids[i], dv.Status)}
			continue
		}
		if isUncertainStatus(dv.Status) {
			s.logger.Warn("uncertain status on node class read",
				zap.String("node", ids[i].String()), zap.Uint32("status", uint32(dv.Status)))
		}
		out[i] = NodeClassResult{Class: nodeClassFromUA(dv.Value.Value())}
	}
	return out, nil
}

// ReadReferences browses every forward and inverse reference of each id,
// paging through BrowseNext until every continuation point is exhausted.
// result[i] holds ids[i]'s references in server arrival order. Browse
// batches are sized so the number of potentially outstanding continuation
// points never exceeds the configured cap.
func (s *Session) ReadReferences(ctx context.Context, ids []NodeID) ([][]ReferenceDescription, error) {
	out := make([][]ReferenceDescription, len(ids))
	chunk := s.browseChunkSize(len(ids))

	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		if err := s.browseChunk(ctx, ids[start:end], out[start:end]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Session) browseChunkSize(total int) int {
	chunk := total
	if s.limits.MaxNodesPerBrowse > 0 && int(s.limits.MaxNodesPerBrowse) < chunk {
		chunk = int(s.limits.MaxNodesPerBrowse)
	}
	if s.limits.MaxBrowseContinuationPoints > 0 && int(s.limits.MaxBrowseContinuationPoints) < chunk {
		chunk = int(s.limits.MaxBrowseContinuationPoints)
	}
	if chunk < 1 {
		chunk = 1
	}
	return chunk
}

// browseChunk issues one Browse for ids and drains every continuation point
// it produced, scattering results back into out by position.
func (s *Session) browseChunk(ctx context.Context, ids []NodeID, out [][]ReferenceDescription) error {
	descs := make([]*ua.BrowseDescription, len(ids))
	for i, id := range ids {
		descs[i] = &ua.BrowseDescription{
			NodeID:          nodeIDToUA(id),
			BrowseDirection: ua.BrowseDirectionBoth,
			ReferenceTypeID: nodeIDToUA(nodeIDReferences),
			IncludeSubtypes: true,
			NodeClassMask:   0, // all classes; class-based pruning happens later in the repair pipeline
			ResultMask:      uint32(ua.BrowseResultMaskAll),
		}
	}

	resp, err := s.client.Browse(ctx, &ua.BrowseRequest{
		RequestedMaxReferencesPerNode: s.limits.RequestedMaxReferencesPerNode,
		NodesToBrowse:                 descs,
	})
	if err != nil {
		return fmt.Errorf("browsing references: %w", err)
	}
	if len(resp.Results) != len(ids) {
		return fmt.Errorf("browse returned %d results for %d requested nodes", len(resp.Results), len(ids))
	}

	// pending[j] tracks which out slot continuation point j belongs to.
	var pending []int
	var points [][]byte
	for i, result := range resp.Results {
		if isBadStatus(result.StatusCode) {
			return fmt.Errorf("browsing references of %s: status %v", ids[i], result.StatusCode)
		}
		out[i] = convertReferences(result.References)
		if len(result.ContinuationPoint) > 0 {
			pending = append(pending, i)
			points = append(points, result.ContinuationPoint)
		}
	}

	for len(points) > 0 {
		nextResp, err := s.client.BrowseNext(ctx, &ua.BrowseNextRequest{
			ContinuationPoints: points,
		})
		if err != nil {
			return fmt.Errorf("browsing next page of references: %w", err)
		}
		if len(nextResp.Results) != len(points) {
			return fmt.Errorf("browse next returned %d results for %d continuation points", len(nextResp.Results), len(points))
		}

		var nextPending []int
		var nextPoints [][]byte
		for j, result := range nextResp.Results {
			i := pending[j]
			if isBadStatus(result.StatusCode) {
				return fmt.Errorf("browsing next page of references of %s: status %v", ids[i], result.StatusCode)
			}
			out[i] = append(out[i], convertReferences(result.References)...)
			if len(result.ContinuationPoint) > 0 {
				nextPending = append(nextPending, i)
				nextPoints = append(nextPoints, result.ContinuationPoint)
			}
		}
		pending, points = nextPending, nextPoints
	}
	return nil
}

func convertReferences(in []*ua.ReferenceDescription) []ReferenceDescription {
	out := make([]ReferenceDescription, len(in))
	for i, r := range in {
		out[i] = ReferenceDescription{
			ReferenceType:        nodeIDFromUA(r.ReferenceTypeID),
			IsForward:            r.IsForward,
			Target:               expandedNodeIDFromUA(r.NodeID),
			TargetBrowseName:     qualifiedNameFromUA(r.BrowseName),
			TargetDisplayName:    localizedTextFromUA(r.DisplayName),
			TargetNodeClass:      nodeClassFromUA(r.NodeClass),
			TargetTypeDefinition: expandedNodeIDFromUA(r.TypeDefinition),
		}
	}
	return out
}

// AttributeTupleRequest names one node whose per-class attribute set should
// be fetched in the next ReadAttributeTuples batch.
type AttributeTupleRequest struct {
	ID    NodeID
	Class NodeClass
}

// ReadAttributeTuples flattens every (node, attribute) pair of reqs into one
// batched Read (chunked at MaxNodesPerRead) and re-scatters the response
// values into per-node attribute maps by running the same iteration order on
// the way in and out. A per-entry bad status downgrades that attribute to
// absent; a value that fails projection (an inconsistent array) is fatal.
func (s *Session) ReadAttributeTuples(ctx context.Context, reqs []AttributeTupleRequest) ([]map[AttributeID]AttributeValue, error) {
	attrSets := make([][]AttributeID, len(reqs))
	var toRead []*ua.ReadValueID
	for i, req := range reqs {
		attrSets[i] = attributesForClass(req.Class)
		for _, a := range attrSets[i] {
			toRead = append(toRead, &ua.ReadValueID{NodeID: nodeIDToUA(req.ID), AttributeID: ua.AttributeID(a)})
		}
	}

	out := make([]map[AttributeID]AttributeValue, len(reqs))
	if len(toRead) == 0 {
		for i := range out {
			out[i] = map[AttributeID]AttributeValue{}
		}
		return out, nil
	}

	results, err := s.read(ctx, toRead)
	if err != nil {
		return nil, fmt.Errorf("reading attributes: %w", err)
	}

	pos := 0
	for i, req := range reqs {
		n := len(attrSets[i])
		attrs, err := s.scatterAttributes(req.ID, attrSets[i], results[pos:pos+n])
		if err != nil {
			return nil, err
		}
		out[i] = attrs
		pos += n
	}
	return out, nil
}

// scatterAttributes projects one node's slice of the batched response into
// its attribute map. ArrayDimensions is projected first so its result can
// feed the Value attribute's array-consistency check regardless of the two
// attributes' positions in the request.
func (s *Session) scatterAttributes(id NodeID, attrs []AttributeID, results []*ua.DataValue) (map[AttributeID]AttributeValue, error) {
	out := make(map[AttributeID]AttributeValue, len(attrs))
	var dims []uint32

	for i, a := range attrs {
		if a != AttributeArrayDimensions {
			continue
		}
		if !s.attributeUsable(id, a, results[i]) {
			continue
		}
		v, present, err := ProjectMetadataAttribute(a, results[i].Value)
		if err != nil {
			return nil, fmt.Errorf("node %s attribute %d: %w", id, a, err)
		}
		if present {
			out[a] = v
			dims, _ = v.(UInt32ArrayValue)
		}
	}

	for i, a := range attrs {
		if a == AttributeArrayDimensions {
			continue
		}
		if !s.attributeUsable(id, a, results[i]) {
			continue
		}
		if a == AttributeValueID {
			v, present, err := ProjectValueVariant(results[i].Value, dims)
			if err != nil {
				return nil, fmt.Errorf("node %s: %w", id, err)
			}
			if present {
				out[a] = v
			}
			continue
		}
		v, present, err := ProjectMetadataAttribute(a, results[i].Value)
		if err != nil {
			return nil, fmt.Errorf("node %s attribute %d: %w", id, a, err)
		}
		if present {
			out[a] = v
		}
	}
	return out, nil
}

// attributeUsable reports whether dv carries a usable value, logging the
// per-entry warnings a bad or uncertain status calls for.
func (s *Session) attributeUsable(id NodeID, a AttributeID, dv *ua.DataValue) bool {
	if isBadStatus(dv.Status) {
		s.logger.Warn("attribute read returned bad status, treating as absent",
			zap.String("node", id.String()),
			zap.Uint32("attribute", uint32(a)),
			zap.Uint32("status", uint32(dv.Status)))
		return false
	}
	if isUncertainStatus(dv.Status) {
		s.logger.Warn("uncertain status on attribute read",
			zap.String("node", id.String()),
			zap.Uint32("attribute", uint32(a)),
			zap.Uint32("status", uint32(dv.Status)))
	}
	return dv.Value != nil
}

// ReadValue reads a single node's Value attribute. arrayDimensions feeds the
// projection's array-consistency check when the caller already knows the
// node's declared dimensions.
func (s *Session) ReadValue(ctx context.Context, id NodeID, arrayDimensions []uint32) (AttributeValue, bool, error) {
	results, err := s.read(ctx, []*ua.ReadValueID{
		{NodeID: nodeIDToUA(id), AttributeID: ua.AttributeIDValue},
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading value of %s: %w", id, err)
	}
	if results[0].Status != ua.StatusOK {
		return nil, false, nil
	}
	return ProjectValueVariant(results[0].Value, arrayDimensions)
}

// serverNamespaceArrayNodeID is the standard NodeId of the Server object's
// NamespaceArray variable (Part 5).
var serverNamespaceArrayNodeID = NumericNodeID(0, 2255)

// GetNamespaces reads the server's NamespaceArray and strips index 0: the
// implicit OPC Foundation namespace, which the NamespaceUris section never
// lists.
func (s *Session) GetNamespaces(ctx context.Context) ([]string, error) {
	v, present, err := s.ReadValue(ctx, serverNamespaceArrayNodeID, nil)
	if err != nil {
		return nil, fmt.Errorf("reading NamespaceArray: %w", err)
	}
	if !present {
		return nil, nil
	}
	vv, ok := v.(VariantValue)
	if !ok {
		return nil, fmt.Errorf("NamespaceArray: unexpected projection %T", v)
	}
	arr, ok := vv.Raw.(*ArrayValue)
	if !ok {
		return nil, fmt.Errorf("NamespaceArray: expected an array value, got %T", vv.Raw)
	}
	if len(arr.Elements) <= 1 {
		return nil, nil
	}
	out := make([]string, 0, len(arr.Elements)-1)
	for _, e := range arr.Elements[1:] {
		if uri, ok := e.(string); ok {
			out = append(out, uri)
		}
	}
	return out, nil
}

// read issues one or more Read calls, chunking toRead at MaxNodesPerRead
// when it is positive, and concatenates the DataValue results in request
// order.
func (s *Session) read(ctx context.Context, toRead []*ua.ReadValueID) ([]*ua.DataValue, error) {
	chunkSize := len(toRead)
	if s.limits.MaxNodesPerRead > 0 && int(s.limits.MaxNodesPerRead) < chunkSize {
		chunkSize = int(s.limits.MaxNodesPerRead)
	}

	results := make([]*ua.DataValue, 0, len(toRead))
	for start := 0; start < len(toRead); start += chunkSize {
		end := min(start+chunkSize, len(toRead))
		resp, err := s.client.Read(ctx, &ua.ReadRequest{
			TimestampsToReturn: ua.TimestampsToReturnNeither,
			NodesToRead:        toRead[start:end],
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Results) != end-start {
			return nil, fmt.Errorf("read returned %d results for %d requested nodes", len(resp.Results), end-start)
		}
		results = append(results, resp.Results...)
	}
	return results, nil
}
