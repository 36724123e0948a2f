// Package task provides a minimal future for running a pipeline stage in its own
// goroutine. The result can only be read through Wait, which blocks until the
// stage has finished.
package task

// Future is the handle of an in-flight computation
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Go starts fn in a new goroutine and returns its handle
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.value, f.err = fn()
	}()
	return f
}

// Wait blocks until the computation finishes and returns its result.
// It may be called any number of times.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.value, f.err
}

// Done returns a channel closed when the computation finishes
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
