package storage

// NewJSONRepository opens the JSON-backed datastore and returns it as a
// Repository. An empty path yields a memory-only store.
func NewJSONRepository(path string, opts ...Option) (Repository, error) {
	return newJSONRepository(path, opts...)
}

// NewMemoryRepository returns a Repository that never touches disk.
func NewMemoryRepository(opts ...Option) Repository {
	store, err := newJSONRepository("", opts...)
	if err != nil {
		// load cannot fail without a file path.
		panic(err)
	}
	return store
}
