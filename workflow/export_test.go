package workflow

// SetPostingLockTimeoutSeconds shortens the advisory-lock wait for tests and
// returns a func restoring the previous value.
func SetPostingLockTimeoutSeconds(seconds int) (restore func()) {
	previous := postingLockTimeoutSeconds
	postingLockTimeoutSeconds = seconds
	return func() { postingLockTimeoutSeconds = previous }
}
