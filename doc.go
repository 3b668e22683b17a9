// Package nodesetexporter exports a selected sub-graph of an OPC UA address
// space into a standards-conformant NodeSet2 XML document.
//
// Given a live OPC UA session (anything satisfying the Client interface,
// typically a *opcua.Client from github.com/gopcua/opcua) and one or more
// start nodes, ExportNodeset drives batched View and Attribute service
// requests, repairs the returned reference graph to satisfy NodeSet2
// invariants, projects OPC UA values onto a closed sum type, and streams the
// result through an ordered XML encoder in a single pass.
package nodesetexporter // import "github.com/xydan83/nodesetexporter"
