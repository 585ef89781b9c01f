package statesync

import (
	"context"
	"errors"
	"sync"

	"github.com/bbernstein/netboot-go/internal/netboot"
	"github.com/bbernstein/netboot-go/internal/services/pubsub"
)

var errSelectionClosed = errors.New("selection already finished")

// Selection is an open game-selection edit. While any selection is open,
// cabinet list polls do not overwrite the mirror.
type Selection struct {
	e  *Engine
	IP string

	once sync.Once
	done bool
	mu   sync.Mutex
}

// BeginSelection opens a selection edit for a cabinet and announces it on
// the bus.
func (e *Engine) BeginSelection(ip string) *Selection {
	e.bus.Publish(pubsub.TopicSelectingNewGame, ip, nil)
	return &Selection{e: e, IP: ip}
}

// Commit submits the chosen game, stores the server's answer in the mirror
// and closes the edit. An empty filename clears the selection. The edit is
// closed even when the request fails.
func (s *Selection) Commit(ctx context.Context, filename string) (netboot.Cabinet, error) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return netboot.Cabinet{}, errSelectionClosed
	}
	s.done = true
	s.mu.Unlock()
	defer s.finish()

	cab, err := s.e.client.SelectGame(ctx, s.IP, filename)
	if err != nil {
		return netboot.Cabinet{}, err
	}

	s.e.mu.Lock()
	s.e.replaceCabinet(cab)
	s.e.mu.Unlock()
	return cab, nil
}

// Cancel closes the edit without submitting anything. It is safe to call
// after Commit.
func (s *Selection) Cancel() {
	s.finish()
}

func (s *Selection) finish() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		s.e.bus.Publish(pubsub.TopicSelectedNewGame, s.IP, nil)
	})
}
