package androidemu

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/devicelab-dev/devicectl/pkg/logger"
)

// AVD describes one Android Virtual Device configuration on disk.
type AVD struct {
	Name        string // AvdId, e.g. "Pixel_7_API_33"
	DisplayName string // avd.ini.displayname, e.g. "Pixel 7 API 33"
	SDK         string // API level from target=android-NN
	Device      string // hw.device.name
	Path        string // the .avd directory
}

// AVDHome resolves the AVD configuration directory: ANDROID_AVD_HOME,
// then ANDROID_SDK_HOME/.android/avd, then ~/.android/avd.
func AVDHome() string {
	if home := os.Getenv("ANDROID_AVD_HOME"); home != "" {
		return home
	}
	if sdkHome := os.Getenv("ANDROID_SDK_HOME"); sdkHome != "" {
		return filepath.Join(sdkHome, ".android", "avd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".android", "avd")
}

// ScanAVDs walks the AVD home directory, reading each *.avd/config.ini
// and its sibling *.ini for identity, display name, and SDK level.
func ScanAVDs(dir string) ([]AVD, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var avds []AVD
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasSuffix(entry.Name(), ".avd") {
			continue
		}
		avdDir := filepath.Join(dir, entry.Name())
		config := parseINI(filepath.Join(avdDir, "config.ini"))

		avd := AVD{
			Name:        config["AvdId"],
			DisplayName: config["avd.ini.displayname"],
			Device:      config["hw.device.name"],
			Path:        avdDir,
		}
		if avd.Name == "" {
			avd.Name = strings.TrimSuffix(entry.Name(), ".avd")
		}
		if avd.DisplayName == "" {
			avd.DisplayName = avd.Name
		}

		// The sibling <name>.ini carries target=android-NN.
		sibling := parseINI(filepath.Join(dir, strings.TrimSuffix(entry.Name(), ".avd")+".ini"))
		avd.SDK = sdkFromTarget(sibling["target"])

		avds = append(avds, avd)
	}
	logger.Debug("scanned %d AVDs under %s", len(avds), dir)
	return avds, nil
}

// parseINI reads a flat key=value file, tolerating a missing file.
func parseINI(path string) map[string]string {
	out := make(map[string]string)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

// sdkFromTarget extracts the API level from a target identifier:
// "android-33" or addon style "Google Inc.:Google APIs:24".
func sdkFromTarget(target string) string {
	if target == "" {
		return ""
	}
	if idx := strings.LastIndex(target, ":"); idx != -1 {
		return target[idx+1:]
	}
	if idx := strings.LastIndex(target, "-"); idx != -1 {
		return target[idx+1:]
	}
	return target
}
