package hardware

import "strings"

// readOnlyImageTypes are immutable filesystems that always report full usage
// (snap packages, live media, appliance root images).
var readOnlyImageTypes = []string{"squashfs", "erofs", "iso9660", "cramfs", "romfs", "udf"}

var containerOverlayMarkers = []string{"/overlay2/", "/overlay/", "/diff/", "/merged"}

// skipPartition reports whether a mounted partition should be left out of the
// disk list, and why.
func skipPartition(fsType, mountpoint string, opts []string, exclude []string) (bool, string) {
	ft := strings.ToLower(strings.TrimSpace(fsType))
	switch {
	case ft == "":
		return true, "no-fstype"
	case hasOpt(opts, "cdrom"):
		return true, "cdrom"
	}

	for _, needle := range readOnlyImageTypes {
		if strings.Contains(ft, needle) {
			return true, "read-only-" + needle
		}
	}

	if strings.Contains(mountpoint, "/containers/") || strings.Contains(mountpoint, "/docker/") {
		for _, marker := range containerOverlayMarkers {
			if strings.Contains(mountpoint, marker) {
				return true, "container-overlay"
			}
		}
	}

	if matchesExclude(mountpoint, exclude) {
		return true, "user-exclude"
	}
	return false, ""
}

// matchesExclude checks value against user patterns:
//   - "/mnt/backup" matches exactly
//   - "/mnt/ext*" matches by prefix
//   - "*pbs*" matches by substring
//
// Patterns made only of "*" are ignored; they would hide every disk.
func matchesExclude(value string, patterns []string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if strings.Trim(pattern, "*") == "" {
			continue
		}

		if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 2 {
			if strings.Contains(value, pattern[1:len(pattern)-1]) {
				return true
			}
			continue
		}

		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(value, pattern[:len(pattern)-1]) {
				return true
			}
			continue
		}

		if value == pattern {
			return true
		}
	}
	return false
}

func hasOpt(opts []string, want string) bool {
	for _, opt := range opts {
		if strings.Contains(opt, want) {
			return true
		}
	}
	return false
}
