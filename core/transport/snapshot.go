package transport

import (
	"time"

	"StemMixer/model"
)

// Snapshot returns the current state of the transport and every track.
func (t *Transport) Snapshot() model.TransportSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Transport) snapshotLocked() model.TransportSnapshot {
	playhead := t.playhead
	if t.state == model.TransportPlaying {
		if ref := t.referenceLocked(); ref != nil {
			playhead = ref.handle.Position()
		}
	}

	gains := ResolveGains(t.mixStatesLocked(), t.volume, t.muted)
	tracks := make([]model.TrackSnapshot, 0, len(t.order))
	for _, key := range t.order {
		tr := t.tracks[key]
		ts := model.TrackSnapshot{
			Key:       tr.key,
			SourceURL: tr.url,
			Status:    tr.status,
			Error:     tr.err,
			Muted:     tr.muted,
			Solo:      tr.solo,
			Volume:    tr.volume,
			Pan:       tr.pan,
			Gain:      gains[key],
			Color:     tr.color,
		}
		if tr.analysis != nil {
			onset := tr.analysis.OnsetMs
			ts.OnsetMs = &onset
			ts.OnsetDetected = tr.analysis.OnsetDetected
		}
		if tr.available() {
			ts.Position = tr.handle.Position()
		}
		tracks = append(tracks, ts)
	}

	return model.TransportSnapshot{
		State:        t.state,
		Playhead:     playhead,
		IsPlaying:    t.state == model.TransportPlaying,
		Duration:     t.duration,
		ReferenceKey: t.reference,
		Volume:       t.volume,
		Muted:        t.muted,
		Generation:   t.generation,
		Tracks:       tracks,
		UpdatedAt:    time.Now().UnixMilli(),
	}
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers only see the most recent one. Call the returned func
// to unsubscribe.
func (t *Transport) Subscribe() (<-chan model.TransportSnapshot, func()) {
	ch := make(chan model.TransportSnapshot, 1)

	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	t.subMu.Unlock()

	return ch, func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

// publishLocked sends the current state to every subscriber. Callers hold
// t.mu, so subscribers receive snapshots in command order.
func (t *Transport) publishLocked() {
	t.publish(t.snapshotLocked())
}

func (t *Transport) publish(snap model.TransportSnapshot) {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	for _, ch := range t.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// 丢掉旧的快照，只保留最新的
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
