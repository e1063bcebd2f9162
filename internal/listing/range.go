package listing

// BlockRange is an inclusive span of blocks fetched in one FilterLogs call.
type BlockRange struct {
	From uint64
	To   uint64
}

// replayWindows covers [cursor, head] with windows of at most size blocks, oldest
// first. It returns nil when the cursor is already past the head.
func replayWindows(cursor, head, size uint64) []BlockRange {
	if cursor > head {
		return nil
	}
	if size == 0 {
		size = 1
	}

	windows := make([]BlockRange, 0, (head-cursor)/size+1)
	for from := cursor; ; from += size {
		// head-from < size also guards the uint64 overflow near the top of the range
		if head-from < size {
			return append(windows, BlockRange{From: from, To: head})
		}
		windows = append(windows, BlockRange{From: from, To: from + size - 1})
	}
}
