package i2cbus

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rockowitz/go-ddcutil/edid"
)

const drmClassDir = "/sys/class/drm"

// readEDIDViaSysfs is the first avenue spec §4.E names: find the DRM
// connector whose ddc symlink resolves to this bus number, and read
// its edid sysfs attribute directly (no I²C transaction needed, since
// the kernel DRM driver has already cached the block).
func readEDIDViaSysfs(busNo int) (*edid.EDID, error) {
	dir, err := connectorDirForBus(busNo)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(dir, "edid"))
	if err != nil {
		return nil, err
	}
	if len(raw) < edid.Size {
		return nil, os.ErrNotExist
	}
	return edid.Parse(raw[:edid.Size])
}

// connectorDirForBus returns the /sys/class/drm/<connector> directory
// whose ddc symlink resolves to /sys/.../i2c-<busNo>, or an error if
// none does.
func connectorDirForBus(busNo int) (string, error) {
	entries, err := os.ReadDir(drmClassDir)
	if err != nil {
		return "", err
	}
	want := busDevName(busNo)
	for _, e := range entries {
		ddcLink := filepath.Join(drmClassDir, e.Name(), "ddc")
		target, err := filepath.EvalSymlinks(ddcLink)
		if err != nil {
			continue
		}
		if filepath.Base(target) == want {
			return filepath.Join(drmClassDir, e.Name()), nil
		}
	}
	return "", os.ErrNotExist
}

func busDevName(busNo int) string {
	return "i2c-" + strconv.Itoa(busNo)
}

// ResolveConnector finds the DRM connector backing busNo, preferring
// the direct ddc-symlink match and falling back to a byte-for-byte
// EDID comparison against every connector's cached edid attribute —
// the fallback spec §4.E requires for adapters whose ddc symlink is
// absent or misleading (common on some eGPU and MST hubs).
func ResolveConnector(busNo int, edidBytes []byte) (string, ConnectorMatch) {
	if dir, err := connectorDirForBus(busNo); err == nil {
		return filepath.Base(dir), ConnectorFoundByBusNo
	}

	entries, err := os.ReadDir(drmClassDir)
	if err != nil {
		return "", ConnectorNotFound
	}
	for _, e := range entries {
		raw, err := os.ReadFile(filepath.Join(drmClassDir, e.Name(), "edid"))
		if err != nil || len(raw) < len(edidBytes) {
			continue
		}
		if bytes.Equal(raw[:len(edidBytes)], edidBytes) {
			return e.Name(), ConnectorFoundByEDID
		}
	}
	return "", ConnectorNotFound
}

// connectorKind extracts the DRM connector type prefix (e.g. "DP",
// "HDMI-A") from a sysfs connector directory name such as
// "card0-DP-1", for diagnostics and logging only.
func connectorKind(name string) string {
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return name
	}
	rest := parts[1]
	if i := strings.LastIndex(rest, "-"); i >= 0 {
		if _, err := strconv.Atoi(rest[i+1:]); err == nil {
			return rest[:i]
		}
	}
	return rest
}
