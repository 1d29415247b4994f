package cache

// ScopedKeyer wraps a Keyer with a prefix so that several workspaces can
// share one cache directory without their entries colliding.
//
// Example usage:
//
//	// Keys for the workspace rooted at /srv/clip
//	keyer := NewScopedKeyer(NewDefaultKeyer(), "root:"+Hash([]byte("/srv/clip"))[:12]+":")
type ScopedKeyer struct {
	inner  Keyer
	prefix string
}

// NewScopedKeyer creates a keyer with a prefix.
// The prefix is prepended to all generated keys.
func NewScopedKeyer(inner Keyer, prefix string) Keyer {
	if inner == nil {
		inner = NewDefaultKeyer()
	}
	return &ScopedKeyer{
		inner:  inner,
		prefix: prefix,
	}
}

// SpecKey generates a prefixed key for a preprocessed spec document.
func (k *ScopedKeyer) SpecKey(path string, content []byte, preprocessor []string) string {
	return k.prefix + k.inner.SpecKey(path, content, preprocessor)
}

