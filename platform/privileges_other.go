//go:build !unix

package platform

// DropPrivileges is a no-op where there is no sudo.
func DropPrivileges() error {
	return nil
}
