package presence

import (
	"log"
	"time"
)

// Sweeper runs two periodic reconciliation passes over the directory. The
// fast pass drops members whose connection is dead or idle; the deep pass
// cross-checks the username registry against live connections and room
// membership, catching divergence the fast pass cannot see (races between
// duplicate eviction and disconnects). Both reuse the directory's removal
// routine, so every repair is idempotent.
type Sweeper struct {
	dir *Directory

	FastInterval time.Duration
	DeepInterval time.Duration
	IdleTimeout  time.Duration
	StaleTimeout time.Duration

	done chan struct{}
}

// NewSweeper creates a sweeper with the standard intervals.
func NewSweeper(dir *Directory) *Sweeper {
	return &Sweeper{
		dir:          dir,
		FastInterval: 15 * time.Second,
		DeepInterval: 120 * time.Second,
		IdleTimeout:  30 * time.Second,
		StaleTimeout: 120 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start launches both sweep loops.
func (s *Sweeper) Start() {
	go s.loop(s.FastInterval, s.SweepFast)
	go s.loop(s.DeepInterval, s.SweepDeep)
}

// Stop halts both loops.
func (s *Sweeper) Stop() {
	close(s.done)
}

func (s *Sweeper) loop(interval time.Duration, pass func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := pass(); n > 0 {
				log.Printf("presence sweep repaired %d connections (%s)", n, s.dir.Stats())
			}
		}
	}
}

// SweepFast removes room members whose connection no longer exists, is no
// longer alive, or has been inactive past the idle threshold. Returns the
// number of repairs.
func (s *Sweeper) SweepFast() int {
	now := time.Now()

	s.dir.mu.Lock()
	var stale []string
	var dead []Conn
	for _, room := range s.dir.rooms {
		for id := range room.Members {
			conn := s.dir.conns[id]
			user := s.dir.users[id]
			switch {
			case conn == nil || !conn.Alive():
				stale = append(stale, id)
				if conn != nil {
					dead = append(dead, conn)
				}
			case user != nil && now.Sub(user.LastActivity) > s.IdleTimeout:
				stale = append(stale, id)
				dead = append(dead, conn)
			}
		}
	}
	s.dir.mu.Unlock()

	for _, conn := range dead {
		conn.Close("inactive")
	}
	for _, id := range stale {
		s.dir.LeaveOrDisconnect(id)
	}
	return len(stale)
}

// SweepDeep repairs username records whose connection is gone, whose record
// has not been refreshed within the stale threshold, or whose name-to-
// connection mapping disagrees with the member actually present in the
// room. Returns the number of repairs.
func (s *Sweeper) SweepDeep() int {
	now := time.Now()

	s.dir.mu.Lock()
	var repair []string
	for name, rec := range s.dir.usernames {
		conn := s.dir.conns[rec.connID]
		switch {
		case conn == nil || !conn.Alive():
			repair = append(repair, rec.connID)
		case now.Sub(rec.updated) > s.StaleTimeout:
			repair = append(repair, rec.connID)
		default:
			room := s.dir.rooms[rec.roomID]
			if room == nil {
				repair = append(repair, rec.connID)
				continue
			}
			for id := range room.Members {
				u := s.dir.users[id]
				if u != nil && u.Username == name && u.ConnID != rec.connID {
					repair = append(repair, rec.connID)
					break
				}
			}
		}
	}
	s.dir.mu.Unlock()

	for _, id := range repair {
		s.dir.LeaveOrDisconnect(id)
	}
	return len(repair)
}
