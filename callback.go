package trombi

// Callback receives the single completion of an asynchronous operation,
// either a result or an error, never both and never more than once.
type Callback[R any] interface {
	Result(result R, err error)
}

type callbackFunc[R any] struct {
	fn func(result R, err error)
}

// NewCallback wraps a plain function as a Callback.
func NewCallback[R any](fn func(result R, err error)) Callback[R] {
	return &callbackFunc[R]{fn: fn}
}

// NewNoopCallback discards the completion. Fire-and-forget.
func NewNoopCallback[R any]() Callback[R] {
	return &callbackFunc[R]{fn: func(R, error) {}}
}

func (c *callbackFunc[R]) Result(result R, err error) {
	c.fn(result, err)
}

// CallbackResult pairs a completion's result with its error for channel
// delivery.
type CallbackResult[R any] struct {
	Result R
	Err    error
}

// NewBlockingCallback returns a Callback plus a channel carrying the
// completion, for callers who want to wait on an operation started
// elsewhere.
func NewBlockingCallback[R any]() (Callback[R], chan CallbackResult[R]) {
	results := make(chan CallbackResult[R], 1)
	callback := NewCallback[R](func(result R, err error) {
		results <- CallbackResult[R]{Result: result, Err: err}
	})
	return callback, results
}

// Go runs op on its own goroutine and delivers the outcome to callback,
// turning any synchronous operation of this package into a non-blocking
// call:
//
//	trombi.Go(func() (*trombi.Document, error) {
//		return db.Set(ctx, fields)
//	}, trombi.NewCallback(func(doc *trombi.Document, err error) {
//		...
//	}))
func Go[R any](op func() (R, error), callback Callback[R]) {
	go func() {
		result, err := op()
		callback.Result(result, err)
	}()
}
