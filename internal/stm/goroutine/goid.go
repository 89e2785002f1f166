package goroutine

import "runtime"

// CurrentID returns the id of the calling goroutine.
//
// Stack trace format: "goroutine 123 [running]:\n..."
//
// Returns 0 only if the runtime changes its stack header format.
func CurrentID() int64 {
	// Only the first line is needed.
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the goroutine id from a stack header line.
//
// Returns 0 if buf does not start with "goroutine <digits>".
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}

// LiveIDs returns the ids of all goroutines currently alive.
//
// The dump of all stacks is taken with runtime.Stack(all=true); the buffer is
// doubled until the dump fits so no goroutine is missed.
func LiveIDs() []int64 {
	size := 64 << 10
	for {
		buf := make([]byte, size)
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return parseAllGIDs(buf[:n])
		}
		size *= 2
	}
}

// parseAllGIDs extracts every "goroutine N [...]" header from a full dump.
func parseAllGIDs(buf []byte) []int64 {
	var gids []int64
	for i := 0; i < len(buf); {
		end := i
		for end < len(buf) && buf[end] != '\n' {
			end++
		}
		if gid := parseGID(buf[i:end]); gid != 0 {
			gids = append(gids, gid)
		}
		i = end + 1
	}
	return gids
}
