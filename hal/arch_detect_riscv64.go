package hal

// No backend registers for ArchRISCV64 in this build; hal.Init will
// fail with ErrDeviceNotFound, matching spec.md's "fails ... if no
// backend is available."
func archFromBuildTags() Arch {
	return ArchRISCV64
}
