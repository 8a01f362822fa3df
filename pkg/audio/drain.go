package audio

// Drain reads from ch until it is closed, discarding every value. Use it when
// a turn is abandoned but the producer of a streaming channel (an LLM chunk
// stream, for example) must still be allowed to finish and close.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
