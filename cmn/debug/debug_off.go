// +build !debug

package debug

// Enabled is true when the binary was built with the "debug" tag.
const Enabled = false

// Assert is a no-op in release builds.
func Assert(bool) {}

// Assertf is a no-op in release builds.
func Assertf(bool, string, ...interface{}) {}

// Infof is a no-op in release builds.
func Infof(string, ...interface{}) {}
