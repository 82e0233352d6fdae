package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tinymem-dev/tinymem/internal/notify"
	"github.com/tinymem-dev/tinymem/internal/store"
)

// ErrAskTimeout is returned by Ask when no answer arrives in time. The session
// is left Active and healthy; the caller may ask again.
var ErrAskTimeout = errors.New("ask timed out")

// Ask puts session id into Waiting with question and blocks until an answer
// is stored, the ask timeout elapses or ctx is done. In every case the pending
// question is cleared and the session returns to Active.
//
// The store is polled every PollInterval so answers written by another
// process are seen; Answer calls in this process wake the waiter at once.
func (m *Manager) Ask(ctx context.Context, id, question string) (string, error) {
	sess, err := m.Touch(ctx, id)
	if err != nil {
		return "", err
	}
	if sess == nil {
		return "", ErrNotFound
	}

	if err := m.store.ClearPending(ctx, id); err != nil {
		return "", fmt.Errorf("clearing stale question: %w", err)
	}
	if err := m.store.SetPending(ctx, id, question); err != nil {
		return "", fmt.Errorf("storing question: %w", err)
	}
	if _, err := m.store.SetStatus(ctx, id, store.Waiting(question, m.now())); err != nil {
		_ = m.store.ClearPending(ctx, id)
		return "", fmt.Errorf("setting waiting status: %w", err)
	}
	m.logger.Info("question asked", "session", id)
	m.publish(notify.NewQuestion, id, question)

	wake := m.register(id)
	defer m.unregister(id, wake)

	deadline := time.NewTimer(m.cfg.AskTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(m.cfg.PollInterval)
	defer poll.Stop()

	for {
		answer, ok, err := m.store.Answer(ctx, id)
		if err == nil && ok {
			m.finishAsk(ctx, id)
			m.logger.Info("question answered", "session", id)
			m.publish(notify.QuestionAnswered, id, answer)
			return answer, nil
		}
		if err != nil && ctx.Err() == nil {
			m.logger.Warn("polling for answer", "session", id, "error", err)
		}

		select {
		case <-ctx.Done():
			m.finishAsk(ctx, id)
			return "", ctx.Err()
		case <-deadline.C:
			if answer, ok, err := m.store.Answer(ctx, id); err == nil && ok {
				m.finishAsk(ctx, id)
				m.publish(notify.QuestionAnswered, id, answer)
				return answer, nil
			}
			m.finishAsk(ctx, id)
			m.logger.Info("question timed out", "session", id)
			m.publish(notify.QuestionTimeout, id, question)
			return "", ErrAskTimeout
		case <-poll.C:
		case <-wake:
		}
	}
}

// finishAsk clears the rendezvous keys and restores Active unless the session
// was marked done while waiting. It runs even if ctx has been cancelled.
func (m *Manager) finishAsk(ctx context.Context, id string) {
	ctx = context.WithoutCancel(ctx)
	if err := m.store.ClearPending(ctx, id); err != nil {
		m.logger.Warn("clearing pending question", "session", id, "error", err)
	}
	if _, err := m.store.FinishWaiting(ctx, id); err != nil {
		m.logger.Warn("restoring active status", "session", id, "error", err)
	}
	m.publish(notify.Refresh, id, "")
}

// Answer stores text as the answer for session id. It does not change the
// session's status; the waiting Ask does that.
func (m *Manager) Answer(ctx context.Context, id, text string) error {
	if err := m.store.SetAnswer(ctx, id, text); err != nil {
		return fmt.Errorf("storing answer: %w", err)
	}
	m.mu.Lock()
	wake, ok := m.waiters[id]
	m.mu.Unlock()
	if ok {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the question session id is waiting on, if any.
func (m *Manager) Pending(ctx context.Context, id string) (string, bool, error) {
	return m.store.Pending(ctx, id)
}

func (m *Manager) register(id string) chan struct{} {
	ch := make(chan struct{}, 1)
	m.mu.Lock()
	m.waiters[id] = ch
	m.mu.Unlock()
	return ch
}

func (m *Manager) unregister(id string, ch chan struct{}) {
	m.mu.Lock()
	if m.waiters[id] == ch {
		delete(m.waiters, id)
	}
	m.mu.Unlock()
}
