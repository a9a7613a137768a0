// Package stream provides the body-piping primitive used to forward
// request and response bodies without buffering them.
package stream

import "io"

// Sink is the destination side of a piped body. *io.PipeWriter satisfies it.
type Sink interface {
	io.Writer
	// CloseWithError terminates the sink. A nil error closes it cleanly
	// (the reader sees io.EOF); a non-nil error is delivered to the reader.
	CloseWithError(err error) error
}

const copyBufferSize = 32 * 1024

// Store forwards src into dst chunk by chunk as data arrives.
//
// On io.EOF from src, dst is closed cleanly when closeSink is set. On any
// other error from src, the error is relayed into dst via CloseWithError and
// is NOT returned to Store's caller: a failing body read terminates the piped
// body but never fails the operation that started the pipe. When
// cancelOnError is set, Store stops consuming src after relaying the error;
// otherwise it keeps draining src.
//
// Store never panics and never reports an error; it is intended to run in
// its own goroutine.
func Store(src io.Reader, dst Sink, cancelOnError, closeSink bool) {
	buf := make([]byte, copyBufferSize)
	relayed := false
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				// The reader side of the sink is gone; nothing left
				// to deliver.
				return
			}
		}
		if err == io.EOF {
			if closeSink {
				_ = dst.CloseWithError(nil)
			}
			return
		}
		if err != nil {
			if cancelOnError || relayed {
				_ = dst.CloseWithError(err)
				return
			}
			// Relay the error but keep draining src. A sink can only
			// carry one terminal error, so a second one ends the pipe.
			_ = dst.CloseWithError(err)
			relayed = true
		}
	}
}
