package stats

import (
	"sync"
	"time"
)

// Stats collects runtime counters. One instance is created by the process
// lifecycle and handed to whoever needs to record events; there is no
// package-level state.
type Stats struct {
	mu sync.Mutex

	messagesRcv  int
	messagesSent int
	commands     map[string]int
	socketEvents map[string]int
	startTime    time.Time
}

func New() *Stats {
	return &Stats{
		commands:     map[string]int{},
		socketEvents: map[string]int{},
		startTime:    time.Now(),
	}
}

func (s *Stats) MessageRcv() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesRcv++
}

func (s *Stats) MessageSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messagesSent++
}

func (s *Stats) Command(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands[name]++
}

func (s *Stats) SocketEvent(t string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.socketEvents[t]++
}

func (s *Stats) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startTime).Truncate(time.Second)
}

// Snapshot is a point-in-time copy of every counter, safe to hand to the web
// service or a stats command.
type Snapshot struct {
	MessagesRcv  int            `json:"messages_received"`
	MessagesSent int            `json:"messages_sent"`
	Commands     map[string]int `json:"commands"`
	SocketEvents map[string]int `json:"socket_events"`
	Uptime       string         `json:"uptime"`
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		MessagesRcv:  s.messagesRcv,
		MessagesSent: s.messagesSent,
		Commands:     map[string]int{},
		SocketEvents: map[string]int{},
		Uptime:       time.Since(s.startTime).Truncate(time.Second).String(),
	}
	for k, v := range s.commands {
		snap.Commands[k] = v
	}
	for k, v := range s.socketEvents {
		snap.SocketEvents[k] = v
	}
	return snap
}

// SocketTotal returns the number of socket events seen since startup.
func (s *Stats) SocketTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, v := range s.socketEvents {
		total += v
	}
	return total
}
