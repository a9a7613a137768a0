package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// errAfterReader yields its payload, then returns err instead of io.EOF.
type errAfterReader struct {
	r   io.Reader
	err error
}

func (e *errAfterReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		return n, e.err
	}
	return n, err
}

func TestStore_CopiesAllChunks(t *testing.T) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		Store(strings.NewReader("hello, world"), pw, true, true)
		close(done)
	}()

	got, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello, world" {
		t.Errorf("piped bytes = %q, want %q", got, "hello, world")
	}
	<-done
}

func TestStore_SourceErrorRelayedNotRaised(t *testing.T) {
	srcErr := errors.New("read failed mid-stream")
	src := &errAfterReader{r: strings.NewReader("partial"), err: srcErr}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		// Store must complete normally even though the source failed.
		Store(src, pw, true, true)
		close(done)
	}()

	buf, err := io.ReadAll(pr)
	if string(buf) != "partial" {
		t.Errorf("piped bytes before error = %q, want %q", buf, "partial")
	}
	if !errors.Is(err, srcErr) {
		t.Errorf("destination error = %v, want %v", err, srcErr)
	}
	<-done
}

func TestStore_CloseSinkFalseLeavesSinkOpen(t *testing.T) {
	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		Store(strings.NewReader("first"), pw, true, false)
		close(done)
	}()

	buf := make([]byte, 5)
	if _, err := io.ReadFull(pr, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	<-done

	// The sink was not closed, so it still accepts a second producer.
	go func() {
		Store(strings.NewReader("second"), pw, true, true)
	}()

	rest, err := io.ReadAll(pr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(rest) != "second" {
		t.Errorf("second producer bytes = %q, want %q", rest, "second")
	}
}

func TestStore_DestinationGoneStopsPiping(t *testing.T) {
	pr, pw := io.Pipe()
	_ = pr.Close()

	done := make(chan struct{})
	go func() {
		Store(strings.NewReader(strings.Repeat("x", 1<<20)), pw, true, true)
		close(done)
	}()
	<-done
}
