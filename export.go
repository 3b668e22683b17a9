package nodesetexporter

import "context"

// ExportNodeset is the package's single public entry point: given a live
// Session, a map of start-node key to the ExpandedNodeIds reachable from
// it, a destination, and options, it drives the Orchestrator against a
// fresh Encoder and returns the resulting StatusResult.
//
// nodeLists' keys are caller-chosen labels (commonly a namespace URI or a
// logical subsystem name); each value's first element is that key's start
// node.
func ExportNodeset(ctx context.Context, session *Session, nodeLists map[string][]ExpandedNodeID, destination Destination, opts Options) StatusResult {
	if err := opts.Validate(); err != nil {
		return Fail(SubCodeBeginFail, err)
	}
	enc := NewEncoder(destination)
	orch := NewOrchestrator(session, opts)
	return orch.Run(ctx, nodeLists, enc)
}
