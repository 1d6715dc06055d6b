package aggregate

// historyWindow is how many prior snapshots feed the rating.
const historyWindow = 6

// Rating computes the smoothed activity rating from prior note counts
// (newest first, at most historyWindow entries) and the current count.
// With no history the current count passes through unchanged; otherwise
// the result is the plain arithmetic mean of all values.
func Rating(history []int64, current int64) float64 {
	if len(history) == 0 {
		return float64(current)
	}

	sum := current
	for _, count := range history {
		sum += count
	}
	return float64(sum) / float64(len(history)+1)
}
