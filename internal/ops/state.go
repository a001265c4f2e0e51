package ops

import "sync"

// session is the active connection to the primary hypervisor.
type session struct {
	profile Profile
	hv      Hypervisor
	nodes   []string
}

// labState is the engine's shared mutable state: the session and what the
// engine has built so far. Only operation goroutines mutate it; the API
// surface reads snapshots.
type labState struct {
	mu     sync.Mutex
	sess   *session
	nested *NestedResult
	guests []ProvisionedVM
}

func newLabState() *labState {
	return &labState{}
}

func (s *labState) setSession(sess *session) {
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
}

func (s *labState) clearSession() {
	s.mu.Lock()
	s.sess = nil
	s.mu.Unlock()
}

func (s *labState) session() (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil, false
	}
	return s.sess, true
}

func (s *labState) setNested(n NestedResult) {
	s.mu.Lock()
	nested := n
	s.nested = &nested
	s.mu.Unlock()
}

func (s *labState) setGuests(vms []ProvisionedVM) {
	s.mu.Lock()
	s.guests = append([]ProvisionedVM(nil), vms...)
	s.mu.Unlock()
}

// inventory returns a snapshot of what the engine believes exists. Guests
// are tracked independently of the nested VM: provisioning addresses the
// nested hypervisor by IP and works even when create_nested ran in an
// earlier process.
func (s *labState) inventory() (*NestedResult, []ProvisionedVM) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nested *NestedResult
	if s.nested != nil {
		n := *s.nested
		nested = &n
	}
	guests := append([]ProvisionedVM(nil), s.guests...)
	return nested, guests
}

// clearLab forgets the nested VM and its guests after a destroy.
func (s *labState) clearLab() {
	s.mu.Lock()
	s.nested = nil
	s.guests = nil
	s.mu.Unlock()
}
