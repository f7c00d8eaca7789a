package tui

import "github.com/mmcdole/nexdl/internal/domain"

// ChannelObserver adapts domain.RunObserver to a channel for Bubble Tea.
type ChannelObserver struct {
	ch chan<- domain.RunEvent
}

// NewChannelObserver creates a new channel-based observer.
func NewChannelObserver(ch chan<- domain.RunEvent) *ChannelObserver {
	return &ChannelObserver{ch: ch}
}

// OnEvent sends the event to the channel (non-blocking if full).
// Every event carries the run counters, so a dropped one only loses a log line.
func (o *ChannelObserver) OnEvent(event domain.RunEvent) {
	select {
	case o.ch <- event:
	default:
	}
}
