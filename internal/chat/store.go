package chat

import (
	"sync"

	"haulsync/driver-client/pkg/models"
)

// RoomLog is the per-room ordered message log. Display order is arrival
// order; the id index always matches the sequence after every mutation.
type RoomLog struct {
	mu       sync.RWMutex
	roomID   string
	messages []models.Message
	index    map[string]int
}

func NewRoomLog(roomID string) *RoomLog {
	return &RoomLog{
		roomID: roomID,
		index:  make(map[string]int),
	}
}

func (l *RoomLog) RoomID() string {
	return l.roomID
}

// LoadHistory replaces the sequence wholesale and rebuilds the index in
// one pass. The fetched page is the deterministic base ordering; live
// appends only ever follow it.
func (l *RoomLog) LoadHistory(messages []models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]models.Message(nil), messages...)
	l.index = make(map[string]int, len(l.messages))
	for i, msg := range l.messages {
		l.index[msg.ID] = i
	}
}

// Append adds one live message. A message whose identifier is already
// indexed is dropped, so a server echo plus broadcast shows up once.
func (l *RoomLog) Append(msg models.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, seen := l.index[msg.ID]; seen {
		return false
	}
	l.messages = append(l.messages, msg)
	l.index[msg.ID] = len(l.messages) - 1
	return true
}

// PositionOf returns the 0-based display position of a message id.
func (l *RoomLog) PositionOf(id string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.index[id]
	return pos, ok
}

func (l *RoomLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Messages returns a copy of the current sequence in display order.
func (l *RoomLog) Messages() []models.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]models.Message(nil), l.messages...)
}
