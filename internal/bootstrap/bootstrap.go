// Package bootstrap prepares the process before a run: environment files,
// the open file limit and the concurrency that limit allows.
package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const (
	// DefaultFileLimit is the soft open file limit requested when nothing
	// else is configured
	DefaultFileLimit uint64 = 16384

	// FileLimitEnv overrides the requested open file limit
	FileLimitEnv = "FLEETCHECK_NOFILE"

	// fdReserve is kept free for logs, NATS and config reloads
	fdReserve = 64
)

// LoadEnv loads KEY=VALUE files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// AdjustFileLimit raises the soft open file limit toward the requested value,
// capped at the hard limit. FLEETCHECK_NOFILE takes precedence over
// requested; zero or an unparsable override means DefaultFileLimit. It
// returns the effective soft limit.
func AdjustFileLimit(requested uint64, logger *zap.Logger) (uint64, error) {
	want := requested
	if v := os.Getenv(FileLimitEnv); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			logger.Warn("Invalid open file limit override, using the default",
				zap.String("env", FileLimitEnv),
				zap.String("value", v),
				zap.Uint64("default", DefaultFileLimit))
			n = DefaultFileLimit
		}
		want = n
	}
	if want == 0 {
		want = DefaultFileLimit
	}

	soft, hard, err := setFileLimit(want)
	if err != nil {
		return 0, fmt.Errorf("failed to adjust open file limit: %w", err)
	}

	logger.Info("Open file limit",
		zap.Uint64("requested", want),
		zap.Uint64("soft", soft),
		zap.Uint64("hard", hard))
	if soft < want {
		logger.Warn("Open file limit is lower than requested, large runs may exhaust descriptors",
			zap.Uint64("requested", want),
			zap.Uint64("effective", soft))
	}
	return soft, nil
}

// ConcurrencyCeiling caps requested concurrency so that in-flight units fit
// in the descriptors left under limit. A zero limit means unknown and leaves
// requested untouched.
func ConcurrencyCeiling(requested int, limit uint64, logger *zap.Logger) int {
	if limit == 0 {
		return requested
	}

	used := openFiles(logger)
	available := int64(limit) - int64(used) - fdReserve
	if available < 1 {
		available = 1
	}
	if int64(requested) <= available {
		return requested
	}

	logger.Warn("Concurrency lowered to fit the open file limit",
		zap.Int("requested", requested),
		zap.Int64("ceiling", available),
		zap.Uint64("file_limit", limit),
		zap.Int32("open_files", used))
	return int(available)
}

// openFiles returns the descriptors currently open by this process, or 0
// when the platform cannot tell
func openFiles(logger *zap.Logger) int32 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Debug("Cannot inspect own process", zap.Error(err))
		return 0
	}
	n, err := p.NumFDs()
	if err != nil {
		logger.Debug("Cannot count open files", zap.Error(err))
		return 0
	}
	return n
}
