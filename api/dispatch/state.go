package dispatch

// platformState is the dispatcher's view of platform initialization.
type platformState int

const (
	// No OnPlatformInitialized yet. On-demand requests are queued.
	stateUninitialized platformState = iota
	// Initialized, but some client models are not ready yet.
	stateInitializing
	// Every model is ready, or the initialization timeout fired.
	stateReady
	// Initialization failed. On-demand requests fail immediately.
	stateInitFailed
)

var platformStateNames = map[platformState]string{
	stateUninitialized: "uninitialized",
	stateInitializing:  "initializing",
	stateReady:         "ready",
	stateInitFailed:    "init_failed",
}

func (s platformState) String() string {
	return platformStateNames[s]
}

// platformStatus tracks the platform state together with the keys whose models are still
// not ready. It is not safe for concurrent use; the dispatcher guards it.
type platformStatus struct {
	state         platformState
	uninitialized map[string]bool
}

func newPlatformStatus(keys []string) *platformStatus {
	uninitialized := make(map[string]bool, len(keys))
	for _, key := range keys {
		uninitialized[key] = true
	}
	return &platformStatus{
		state:         stateUninitialized,
		uninitialized: uninitialized,
	}
}

// initialized records the platform initialization outcome.
func (s *platformStatus) initialized(success bool) {
	switch {
	case !success:
		s.state = stateInitFailed
	case len(s.uninitialized) > 0:
		s.state = stateInitializing
	default:
		s.state = stateReady
	}
}

// modelReady marks a key's model as ready. It reports whether the key was waiting.
func (s *platformStatus) modelReady(key string) bool {
	if !s.uninitialized[key] {
		return false
	}
	delete(s.uninitialized, key)
	if s.state == stateInitializing && len(s.uninitialized) == 0 {
		s.state = stateReady
	}
	return true
}

// timedOut treats every model as ready. It reports the keys that were still waiting.
func (s *platformStatus) timedOut() []string {
	keys := s.waitingKeys()
	s.uninitialized = map[string]bool{}
	if s.state == stateInitializing {
		s.state = stateReady
	}
	return keys
}

// shouldQueue reports whether an on-demand request for key has to wait.
func (s *platformStatus) shouldQueue(key string) bool {
	return s.state == stateUninitialized || (s.state != stateInitFailed && s.uninitialized[key])
}

func (s *platformStatus) failed() bool {
	return s.state == stateInitFailed
}

func (s *platformStatus) waitingKeys() []string {
	keys := make([]string, 0, len(s.uninitialized))
	for key := range s.uninitialized {
		keys = append(keys, key)
	}
	return keys
}
