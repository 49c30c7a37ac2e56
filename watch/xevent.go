package watch

import "os"

// resolveDynamicMode implements the "dynamic" mode-selection rule
// from spec §4.G: prefer xevent when a session type of x11 or wayland
// is detected and RandR init would succeed, else fall back to poll.
//
// No in-tree X11/RandR binding exists in this module (it is named in
// spec §1 among the core's external collaborators, not specified
// here), so "RandR init succeeds" can never be true in this build:
// dynamic mode always resolves to poll. The session-type detection is
// still performed and logged, so the decision is visible in
// diagnostics even though it never changes the outcome.
func resolveDynamicMode() Mode {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	_, hasDisplay := os.LookupEnv("DISPLAY")

	switch sessionType {
	case "x11", "wayland":
		watchLog.Debug("dynamic mode: x11/wayland session detected but no RandR binding is available, using poll", "session_type", sessionType, "display_set", hasDisplay)
	default:
		watchLog.Debug("dynamic mode: no x11/wayland session detected, using poll", "session_type", sessionType)
	}
	return ModePoll
}
