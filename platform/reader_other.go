//go:build !linux

package platform

// OpenReader is not available outside Linux; use a FileReader instead.
func OpenReader(cfg ReaderConfig) (Reader, error) {
	return nil, ErrUnsupported
}
