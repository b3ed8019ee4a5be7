package hal

// Running the 32-bit kernel core under an amd64 Go toolchain (the usual
// development/test host) still targets the x86_32 backend: the spec is
// explicit that 64-bit mode is out of scope.
func archFromBuildTags() Arch {
	return ArchX86_32
}
