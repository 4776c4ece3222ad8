package serialcomm

import (
	"sync"
	"time"
)

// Store holds the latest telemetry value per field. Update is called by the
// reader loop; Snapshot may be called from any goroutine.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewStore returns an empty store: numeric fields zero, switches unknown.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Update overwrites the single field addressed by r.
func (s *Store) Update(r Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Kind {
	case ReadingTemperature:
		s.snap.Temperature = r.Value
	case ReadingHumidity:
		s.snap.Humidity = r.Value
	case ReadingLight:
		s.snap.Light = SwitchOf(r.On)
	case ReadingFan:
		s.snap.Fan = SwitchOf(r.On)
	default:
		return
	}
	s.snap.UpdatedAt = s.now()
}

// Snapshot returns a consistent copy of all fields.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Store) reset() {
	s.mu.Lock()
	s.snap = Snapshot{}
	s.mu.Unlock()
}
