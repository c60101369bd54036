package foreman

// Option configures a world at creation time.
type Option func(*World)

// WithTargetFPS caps frame progression at the given rate. 0 is uncapped.
func WithTargetFPS(fps float32) Option {
	return func(w *World) { w.targetFPS = fps }
}

// WithThreads sets the worker thread count. 0 runs everything inline on the
// calling goroutine.
func WithThreads(count int) Option {
	return func(w *World) { w.pendingThreads = count }
}

// WithAutoMerge controls whether Progress merges stages automatically. When
// disabled the caller must invoke Merge explicitly.
func WithAutoMerge(auto bool) Option {
	return func(w *World) { w.autoMerge = auto }
}

// WithMeasureFrameTime enables the frame time counter.
func WithMeasureFrameTime(measure bool) Option {
	return func(w *World) { w.measureFrameTime = measure }
}

// WithMeasureSystemTime enables per-system time counters.
func WithMeasureSystemTime(measure bool) Option {
	return func(w *World) { w.measureSystemTime = measure }
}

// WithContext attaches an opaque user pointer, returned unchanged by Context.
func WithContext(ctx any) Option {
	return func(w *World) { w.context = ctx }
}
