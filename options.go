package satchel

// Option configures an Attachment.
type Option func(*Attachment)

// WithCache sets the storage key that receives raw uploads.
// If not specified, "cache" is used.
func WithCache(key string) Option {
	return func(a *Attachment) {
		a.cache = key
	}
}

// WithStore sets the storage key files are promoted into.
// If not specified, "store" is used.
func WithStore(key string) Option {
	return func(a *Attachment) {
		a.store = key
	}
}

// WithSchema sets the allowed tree shape.
// If not specified, Single is used.
func WithSchema(s Schema) Option {
	return func(a *Attachment) {
		a.schema = s
	}
}

// WithConcurrency sets how many leaf operations run in parallel.
func WithConcurrency(n int) Option {
	return func(a *Attachment) {
		a.concurrency = n
	}
}

// WithCodec sets the codec for column data.
// If not specified, JSONCodec is used.
func WithCodec(c Codec) Option {
	return func(a *Attachment) {
		a.codec = c
	}
}

// WithKeep sets which files survive replacement and destruction.
func WithKeep(k KeepPolicy) Option {
	return func(a *Attachment) {
		a.keep = k
	}
}

// WithValidators appends validators run after every assignment.
func WithValidators(v ...Validator) Option {
	return func(a *Attachment) {
		a.validators = append(a.validators, v...)
	}
}

// WithAnalyzers appends metadata analyzers run on every cached file.
func WithAnalyzers(fns ...Analyzer) Option {
	return func(a *Attachment) {
		a.analyzers = append(a.analyzers, fns...)
	}
}

// WithIDGenerator sets the function producing storage ids for new files.
func WithIDGenerator(fn IDGenerator) Option {
	return func(a *Attachment) {
		a.newID = fn
	}
}

// WithStages appends pipeline stages. The first stage is outermost.
func WithStages(stages ...Stage) Option {
	return func(a *Attachment) {
		a.stages = append(a.stages, stages...)
	}
}

// WithMovePromotion moves cached files into the store instead of copying
// them when the store storage accepts the move.
func WithMovePromotion() Option {
	return func(a *Attachment) {
		a.movePromotion = true
	}
}
