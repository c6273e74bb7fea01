//go:build !linux && !darwin

package bootstrap

// setFileLimit leaves the limit alone on other platforms and reports the
// request as granted
func setFileLimit(want uint64) (soft, hard uint64, err error) {
	return want, want, nil
}
