//go:build !linux

package nlbind

func (Config) Open() (fd int, portID uint32, err error) {
	return 0, 0, ErrUnsupported
}
