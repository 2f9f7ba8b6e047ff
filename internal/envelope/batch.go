package envelope

// MaxBatchSize is the maximum number of sub-messages in one INSERT_BATCH or
// DELETE_BATCH body (spec.md §4.5, P7).
const MaxBatchSize = 32

// Fragment splits msgs into chunks of at most MaxBatchSize, in order. The
// last chunk may be shorter. Fragment(nil) returns nil.
func Fragment(msgs []SubMessage) [][]SubMessage {
	if len(msgs) == 0 {
		return nil
	}
	var batches [][]SubMessage
	for i := 0; i < len(msgs); i += MaxBatchSize {
		end := i + MaxBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		batches = append(batches, msgs[i:end])
	}
	return batches
}
