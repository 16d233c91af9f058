// Package kernel talks to the notebook kernel bridge over JSON/HTTP.
//
// The bridge owns the Jupyter kernel and the notebook document. Client
// implements both the execution backend and the notebook environment the
// orchestrator needs:
//
//	POST   /cells/run       run a tool call, returns a ToolResult
//	POST   /interrupt       interrupt the executing cell
//	POST   /variables       {"names": [...]} -> {"values": {...}}
//	GET    /cells           {"count": n}
//	GET    /cells/{i}       one cell with its outputs
//	PUT    /cells/{i}       {"source": "..."}
//	DELETE /cells/{i}       remove a cell
//	GET    /snapshot        the notebook as reasoning context
//
// Reads are retried on transient failures. Running a cell is never retried
// because the bridge may have executed it before the connection dropped.
package kernel
