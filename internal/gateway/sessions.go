package gateway

import (
	"context"
	"time"

	serviceerrors "github.com/r3e-network/agent-core/infrastructure/errors"
	"github.com/r3e-network/agent-core/internal/domain"
)

func (g *Gateway) registerSession(session domain.Session) {
	g.mu.Lock()
	g.sessions[session.ID] = &sessionRecord{session: session}
	g.mu.Unlock()
}

func (g *Gateway) lookupSession(id string) (*sessionRecord, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.sessions[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// terminateSession marks the session terminated, emits a session_end event
// to every listener, and removes it from the live set.
func (g *Gateway) terminateSession(id string) bool {
	g.mu.Lock()
	rec, ok := g.sessions[id]
	if !ok {
		g.mu.Unlock()
		return false
	}
	rec.session.Status = domain.SessionTerminated
	listeners := rec.listeners
	delete(g.sessions, id)
	g.mu.Unlock()

	for _, ch := range listeners {
		g.dispatchSafely(ch, StreamEvent{Type: EventTypeSessionEnd, Timestamp: time.Now()})
		close(ch)
	}
	return true
}

// dispatchMessage runs the reply hook (if any) and fans the resulting
// message or error out to the session's stream listeners. Generating the
// reply itself is delegated entirely to the injected hook; the gateway
// never talks to a model directly.
func (g *Gateway) dispatchMessage(session domain.Session, message string) {
	g.mu.Lock()
	if rec, ok := g.sessions[session.ID]; ok {
		rec.session.Status = domain.SessionRunning
	}
	g.mu.Unlock()

	if g.reply == nil {
		g.emitSessionEvent(session.ID, StreamEvent{
			Type:      EventTypeMessage,
			Data:      map[string]interface{}{"message": message},
			Timestamp: time.Now(),
		})
		return
	}

	reply, usage, err := g.reply(session, message)
	if err != nil {
		usage.Err = err.Error()
	}
	result, recordErr := g.manager.RecordToolCall(context.Background(), session.AgentID, "generate-reply", usage)
	if recordErr != nil {
		g.logger.WithError(recordErr).WithFields(map[string]interface{}{"agentId": session.AgentID}).
			Warn("failed to record reply usage against budget")
	}
	if result.ForceStop {
		var horizon, kind string
		var current, limit float64
		if n := len(result.Alerts); n > 0 {
			last := result.Alerts[n-1]
			horizon, kind = string(last.Horizon), string(last.BudgetKind)
			current, limit = last.CurrentValue, last.LimitValue
		}
		svcErr := serviceerrors.BudgetExceeded(horizon, kind, current, limit)
		g.mu.Lock()
		if rec, ok := g.sessions[session.ID]; ok {
			rec.session.Status = domain.SessionError
		}
		g.mu.Unlock()
		g.emitSessionEvent(session.ID, StreamEvent{
			Type:      EventTypeError,
			Data:      map[string]interface{}{"error": svcErr.Message, "code": string(svcErr.Code), "reason": result.StopReason},
			Timestamp: time.Now(),
		})
		return
	}

	if err != nil {
		g.mu.Lock()
		if rec, ok := g.sessions[session.ID]; ok {
			rec.session.Status = domain.SessionError
		}
		g.mu.Unlock()
		g.emitSessionEvent(session.ID, StreamEvent{
			Type:      EventTypeError,
			Data:      map[string]interface{}{"error": err.Error()},
			Timestamp: time.Now(),
		})
		return
	}

	g.emitSessionEvent(session.ID, StreamEvent{
		Type:      EventTypeMessage,
		Data:      map[string]interface{}{"reply": reply},
		Timestamp: time.Now(),
	})
}

// emitSessionEvent fans event out to every subscriber of sessionID. A
// listener whose channel is full is skipped rather than allowed to block
// the fan-out; one slow subscriber must not stall the others.
func (g *Gateway) emitSessionEvent(sessionID string, event StreamEvent) {
	g.mu.Lock()
	rec, ok := g.sessions[sessionID]
	if !ok {
		g.mu.Unlock()
		return
	}
	listeners := make([]chan StreamEvent, len(rec.listeners))
	copy(listeners, rec.listeners)
	g.mu.Unlock()

	for _, ch := range listeners {
		g.dispatchSafely(ch, event)
	}
}

func (g *Gateway) dispatchSafely(ch chan StreamEvent, event StreamEvent) {
	defer func() { recover() }()
	select {
	case ch <- event:
	default:
	}
}

// subscribe registers a new listener channel for sessionID and returns it
// plus an unsubscribe function. Returns ok=false if the session is unknown.
func (g *Gateway) subscribe(sessionID string) (chan StreamEvent, func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.sessions[sessionID]
	if !ok {
		return nil, nil, false
	}
	ch := make(chan StreamEvent, 16)
	rec.listeners = append(rec.listeners, ch)

	unsubscribe := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		rec, ok := g.sessions[sessionID]
		if !ok {
			return
		}
		for i, l := range rec.listeners {
			if l == ch {
				rec.listeners = append(rec.listeners[:i], rec.listeners[i+1:]...)
				break
			}
		}
	}
	return ch, unsubscribe, true
}
