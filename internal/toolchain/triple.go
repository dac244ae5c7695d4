package toolchain

import (
	"context"
	"runtime"
	"strings"

	gopsutilhost "github.com/shirou/gopsutil/v4/host"
)

// goArchs maps Go architecture names to dist target architectures.
var goArchs = map[string]string{
	"amd64":    "x86_64",
	"386":      "i686",
	"arm64":    "aarch64",
	"arm":      "armv7",
	"riscv64":  "riscv64",
	"loong64":  "loongarch64",
	"ppc64":    "powerpc64",
	"ppc64le":  "powerpc64le",
	"s390x":    "s390x",
	"mips":     "mips",
	"mipsle":   "mipsel",
	"mips64":   "mips64",
	"mips64le": "mips64el",
}

// DetectTriple determines the host target triple from the running
// platform. On Linux it consults gopsutil to distinguish musl-based
// distributions from glibc ones; when that detection fails it falls back
// to glibc, which is the common case.
func DetectTriple(ctx context.Context) Triple {
	arch, ok := goArchs[runtime.GOARCH]
	if !ok {
		arch = runtime.GOARCH
	}

	switch runtime.GOOS {
	case "linux":
		env := "gnu"
		if platform, family, _, err := gopsutilhost.PlatformInformationWithContext(ctx); err == nil {
			if strings.Contains(platform, "alpine") || family == "alpine" {
				env = "musl"
			}
		}
		return Triple(arch + "-unknown-linux-" + env)
	case "darwin":
		return Triple(arch + "-apple-darwin")
	case "windows":
		return Triple(arch + "-pc-windows-msvc")
	case "freebsd":
		return Triple(arch + "-unknown-freebsd")
	case "openbsd":
		return Triple(arch + "-unknown-openbsd")
	case "netbsd":
		return Triple(arch + "-unknown-netbsd")
	default:
		return Triple(arch + "-unknown-" + runtime.GOOS)
	}
}
