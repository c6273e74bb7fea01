package config

import (
	"runtime"
)

// PlatformDefaults holds platform-specific default paths
type PlatformDefaults struct {
	LogFile     string
	ConfigPath  string
	CatalogFile string
}

// GetPlatformDefaults returns platform-specific defaults based on runtime.GOOS
func GetPlatformDefaults() PlatformDefaults {
	switch runtime.GOOS {
	case "windows":
		return PlatformDefaults{
			LogFile:     `C:\ProgramData\Fleetcheck\fleetcheck.log`,
			ConfigPath:  `C:\ProgramData\Fleetcheck\config.yaml`,
			CatalogFile: `C:\ProgramData\Fleetcheck\catalog.yaml`,
		}
	case "freebsd":
		return PlatformDefaults{
			LogFile:     "/var/log/fleetcheck/fleetcheck.log",
			ConfigPath:  "/usr/local/etc/fleetcheck/config.yaml",
			CatalogFile: "/usr/local/etc/fleetcheck/catalog.yaml",
		}
	default:
		// linux and anything unknown
		return PlatformDefaults{
			LogFile:     "/var/log/fleetcheck/fleetcheck.log",
			ConfigPath:  "/etc/fleetcheck/config.yaml",
			CatalogFile: "/etc/fleetcheck/catalog.yaml",
		}
	}
}

// GetDefaultConfigPath returns the platform-specific default config path
func GetDefaultConfigPath() string {
	return GetPlatformDefaults().ConfigPath
}

// UpdateConfigDefaults sets platform-specific viper defaults.
// Called from setDefaults.
func UpdateConfigDefaults(v interface{}) {
	type viper interface {
		SetDefault(key string, value interface{})
	}

	if viperInstance, ok := v.(viper); ok {
		defaults := GetPlatformDefaults()
		viperInstance.SetDefault("logging.file", defaults.LogFile)
		viperInstance.SetDefault("catalog.file", defaults.CatalogFile)
	}
}
