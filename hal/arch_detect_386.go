package hal

// archFromBuildTags is selected at compile time by GOARCH via the file
// name suffix, the same trick the teacher uses for its amd64-only debug
// helpers (machine/debug_amd64.go).
func archFromBuildTags() Arch {
	return ArchX86_32
}
