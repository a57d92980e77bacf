package constants

// WithBaseDir overrides the base directory lookup used to build default paths.
func WithBaseDir(baseDir func() (string, error)) option {
	return func(o *options) {
		o.baseDir = baseDir
	}
}
