//go:build !386 && !amd64 && !arm64 && !riscv64

package hal

func archFromBuildTags() Arch {
	return ArchUnknown
}
