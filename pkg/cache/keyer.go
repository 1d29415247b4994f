package cache

// Keyer derives cache keys from the inputs of a cached artifact.
type Keyer interface {
	// SpecKey identifies the preprocessed form of a spec document.
	SpecKey(path string, content []byte, preprocessor []string) string
}

// DefaultKeyer hashes all inputs into fixed-length keys.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// SpecKey hashes the document path, its content and the preprocessor argv.
func (DefaultKeyer) SpecKey(path string, content []byte, preprocessor []string) string {
	return hashKey("spec", path, Hash(content), preprocessor)
}

var _ Keyer = DefaultKeyer{}
