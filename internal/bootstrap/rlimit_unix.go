//go:build linux || darwin

package bootstrap

import (
	"golang.org/x/sys/unix"
)

// setFileLimit raises RLIMIT_NOFILE's soft value to min(want, hard)
func setFileLimit(want uint64) (soft, hard uint64, err error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, 0, err
	}

	target := want
	if target > uint64(rl.Max) {
		target = uint64(rl.Max)
	}
	if uint64(rl.Cur) >= target {
		return uint64(rl.Cur), uint64(rl.Max), nil
	}

	rl.Cur = target
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return 0, 0, err
	}
	return uint64(rl.Cur), uint64(rl.Max), nil
}
