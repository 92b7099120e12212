// Package streamproc turns provider stream chunks into ordered
// types.DisplayFragments and, in XML tool mode, types.ToolRequests.
//
// Two independent front ends feed the same Processor:
//
//   - Native mode: the provider already delivers structured tool-use
//     blocks (internal/provider accumulates the JSON deltas itself), so
//     ProcessToolUse is called once per finished block and the
//     processor fans that out into ToolName/ToolParameter/ToolEnd
//     fragments from the already-parsed input.
//   - XML mode: tools are embedded in model text as
//     <tool:NAME>...<param:KEY>value</param:KEY>...</tool:NAME>.
//     ProcessText feeds a streaming tokenizer that recognizes tag
//     boundaries across chunk splits and emits the same fragment
//     vocabulary incrementally.
//
// XML mode enforces one tool per turn: once a tool's close tag is seen,
// further text and tool fragments for that request are swallowed rather
// than forwarded. Native mode carries no such limit; every structured
// tool-use block is forwarded in source order.
package streamproc
