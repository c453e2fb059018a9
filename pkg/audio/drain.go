package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent producer goroutines from blocking on a stream whose
// remaining values no longer matter, e.g. frames still queued after a
// recording was cancelled.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
