package session

import (
	"sync"

	"relayhub/internal/identity"
)

// RoomCodeIndex maps short numeric codes to the session that owns them.
// A code is owned by at most one session at a time.
type RoomCodeIndex struct {
	mu       sync.Mutex
	owners   map[string]string
	size     int
	attempts int
	generate func(int) string
}

func NewRoomCodeIndex(size, attempts int) *RoomCodeIndex {
	return &RoomCodeIndex{
		owners:   make(map[string]string),
		size:     size,
		attempts: attempts,
		generate: identity.NewRoomCode,
	}
}

// Reserve assigns a code to sessionID. A preferred code is kept when it is
// free or already owned by the same session; otherwise random codes are tried
// until the attempt budget runs out.
func (ix *RoomCodeIndex) Reserve(sessionID, preferred string) (string, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(preferred) == ix.size {
		if owner, taken := ix.owners[preferred]; !taken || owner == sessionID {
			ix.owners[preferred] = sessionID
			return preferred, nil
		}
	}

	for i := 0; i < ix.attempts; i++ {
		code := ix.generate(ix.size)
		if _, taken := ix.owners[code]; taken {
			continue
		}
		ix.owners[code] = sessionID
		return code, nil
	}
	return "", ErrRoomCodeSpaceExhausted
}

// Release frees code if sessionID still owns it.
func (ix *RoomCodeIndex) Release(code, sessionID string) {
	if code == "" {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.owners[code] == sessionID {
		delete(ix.owners, code)
	}
}

func (ix *RoomCodeIndex) Lookup(code string) (string, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	id, ok := ix.owners[code]
	return id, ok
}

func (ix *RoomCodeIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.owners)
}
