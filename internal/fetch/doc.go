// Package fetch provides a streaming HTTP downloader with retry logic
// and observable progress.
//
// A Fetch opens the connection eagerly but the body is consumed lazily
// through the returned Stream, which implements io.ReadCloser. Every
// chunk of bytes handed to the consumer is announced on the stream's
// event channel first, so progress accounting never runs ahead of
// delivery. Mid-stream read failures reconnect from the start of the
// resource and skip the bytes already delivered, keeping the consumer's
// view of the stream contiguous; connection and retryable HTTP failures
// reconnect the same way. Each reconnection is announced as a retry
// event, and exhausting the retry budget ends the stream with a
// *RetryExhaustedError.
//
// The event channel is buffered and must be drained by an independent
// consumer (see internal/progress); it is closed exactly once, after
// the terminal end or error event.
package fetch
