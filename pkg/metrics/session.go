package metrics

// SessionMetrics provides observability for the command session loop.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
type SessionMetrics interface {
	// RecordFrame records a received 16-byte header and its decode outcome
	// ("ok", "bad_magic", "short").
	RecordFrame(result string)

	// RecordCommand records a dispatched command by name (EXIT, LIST,
	// FILE_RANGE, or the unknown-id rendering).
	RecordCommand(command string)

	// RecordStreamedBytes records payload bytes sent to the peer.
	RecordStreamedBytes(n uint64)

	// RecordTransferAborted increments the aborted range-transfer counter.
	RecordTransferAborted()

	// RecordSessionStarted increments the accepted-session counter.
	RecordSessionStarted()

	// RecordSessionEnded increments the completed-session counter.
	RecordSessionEnded()
}
