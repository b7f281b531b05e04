package platform

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// SupportedOS represents supported operating systems
type SupportedOS string

const (
	Linux   SupportedOS = "linux"
	Windows SupportedOS = "windows"
	Darwin  SupportedOS = "darwin"
	FreeBSD SupportedOS = "freebsd"
	OpenBSD SupportedOS = "openbsd"
	NetBSD  SupportedOS = "netbsd"
	Solaris SupportedOS = "solaris"
	AIX     SupportedOS = "aix"
)

// nativeOS have a dedicated processor driver; the rest go through gopsutil only
var nativeOS = []SupportedOS{Linux, Windows, Darwin}

var genericOS = []SupportedOS{FreeBSD, OpenBSD, NetBSD, Solaris, AIX}

// GetOS returns the current operating system
func GetOS() SupportedOS {
	return SupportedOS(runtime.GOOS)
}

// HasNativeDriver returns true if the current OS has a dedicated driver
func HasNativeDriver() bool {
	return isNative(GetOS())
}

// IsSupported returns true if the current OS is supported
func IsSupported() bool {
	return isSupported(GetOS())
}

func isNative(os SupportedOS) bool {
	return slices.Contains(nativeOS, os)
}

func isSupported(os SupportedOS) bool {
	return isNative(os) || slices.Contains(genericOS, os)
}

// ValidateSupport returns an error if the current OS is not supported
func ValidateSupport() error {
	return validate(GetOS())
}

func validate(os SupportedOS) error {
	if !isSupported(os) {
		names := make([]string, 0, len(nativeOS)+len(genericOS))
		for _, s := range append(slices.Clone(nativeOS), genericOS...) {
			names = append(names, string(s))
		}
		return fmt.Errorf("unsupported operating system: %s. Supported: %s", os, strings.Join(names, ", "))
	}
	return nil
}
