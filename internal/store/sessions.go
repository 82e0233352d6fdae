package store

import (
	"context"
	"slices"

	"github.com/tinymem-dev/tinymem/internal/kv"
)

// CreateSession writes sess and adds it to the active set in one batch.
// Any stale history entry for the same id is dropped so the id is never
// listed as both active and done.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	raw, err := encode(sess)
	if err != nil {
		return err
	}
	return s.kv.Atomic(ctx,
		kv.Set(sessionKey(sess.ID), raw),
		kv.SetAdd(activeSet, sess.ID),
		kv.ListRemove(historyList, 0, sess.ID),
	)
}

// GetSession returns the session with id, or nil if there is none.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	return getJSON[Session](ctx, s, sessionKey(id))
}

// PutSession overwrites the session record without touching any index.
func (s *Store) PutSession(ctx context.Context, sess *Session) error {
	raw, err := encode(sess)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, sessionKey(sess.ID), raw)
}

// SetStatus replaces the status of session id. It reports false when the
// session does not exist.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) (bool, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return false, err
	}
	sess.Status = status
	return true, s.PutSession(ctx, sess)
}

// FinishWaiting returns session id to Active if it is still Waiting. A session
// marked done meanwhile stays Done, so its next touch reactivates it. It
// reports whether the status changed.
func (s *Store) FinishWaiting(ctx context.Context, id string) (bool, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return false, err
	}
	if sess.Status.Type != StatusWaiting {
		return false, nil
	}
	sess.Status = Active()
	return true, s.PutSession(ctx, sess)
}

// MarkDone moves session id from the active set to the head of the history
// list and sets its status to Done. It reports false when the session does
// not exist or is already Done.
func (s *Store) MarkDone(ctx context.Context, id string) (bool, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return false, err
	}
	if sess.Status.Type == StatusDone {
		return false, nil
	}
	sess.Status = Done()
	raw, err := encode(sess)
	if err != nil {
		return false, err
	}
	err = s.kv.Atomic(ctx,
		kv.Set(sessionKey(id), raw),
		kv.SetRemove(activeSet, id),
		kv.ListRemove(historyList, 0, id),
		kv.PushHead(historyList, id),
	)
	return err == nil, err
}

// Touch sets LastActivity to now. A Done session is reactivated in the same
// batch: it leaves the history list and rejoins the active set. Touching a
// missing session returns nil.
func (s *Store) Touch(ctx context.Context, id string, now int64) (sess *Session, reactivated bool, err error) {
	sess, err = s.GetSession(ctx, id)
	if err != nil || sess == nil {
		return nil, false, err
	}
	sess.LastActivity = now
	if sess.Status.Type != StatusDone {
		return sess, false, s.PutSession(ctx, sess)
	}

	sess.Status = Active()
	raw, err := encode(sess)
	if err != nil {
		return nil, false, err
	}
	err = s.kv.Atomic(ctx,
		kv.Set(sessionKey(id), raw),
		kv.ListRemove(historyList, 0, id),
		kv.SetAdd(activeSet, id),
	)
	if err != nil {
		return nil, false, err
	}
	return sess, true, nil
}

// ListActive returns the ids in the active set, sorted.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	ids, err := s.kv.Members(ctx, activeSet)
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)
	return ids, nil
}

// ListHistory returns up to limit ids of done sessions, most recent first.
// A limit of zero or less returns all of them.
func (s *Store) ListHistory(ctx context.Context, limit int) ([]string, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	return s.kv.Range(ctx, historyList, 0, stop)
}

// AppendHook adds hook to the end of the session's hook log.
func (s *Store) AppendHook(ctx context.Context, id string, hook Hook) error {
	raw, err := encode(hook)
	if err != nil {
		return err
	}
	return s.kv.Append(ctx, hooksKey(id), raw)
}

// Hooks returns the last limit hooks in append order (all when limit <= 0).
func (s *Store) Hooks(ctx context.Context, id string, limit int) ([]Hook, error) {
	key := hooksKey(id)
	items, err := s.kv.Range(ctx, key, tailStart(limit), -1)
	if err != nil {
		return nil, err
	}
	return decodeAll[Hook](s, key, items), nil
}

// AppendMessage adds msg to the end of the session's message log.
func (s *Store) AppendMessage(ctx context.Context, id string, msg Message) error {
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	return s.kv.Append(ctx, messagesKey(id), raw)
}

// Messages returns the last limit messages in append order (all when limit <= 0).
func (s *Store) Messages(ctx context.Context, id string, limit int) ([]Message, error) {
	key := messagesKey(id)
	items, err := s.kv.Range(ctx, key, tailStart(limit), -1)
	if err != nil {
		return nil, err
	}
	return decodeAll[Message](s, key, items), nil
}

func tailStart(limit int) int64 {
	if limit <= 0 {
		return 0
	}
	return -int64(limit)
}

func (s *Store) SetActiveTool(ctx context.Context, id, tool string) error {
	return s.kv.Set(ctx, activeToolKey(id), tool)
}

func (s *Store) ClearActiveTool(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, activeToolKey(id))
}

// ActiveTool returns the tool session id is running, or "" when idle.
func (s *Store) ActiveTool(ctx context.Context, id string) (string, error) {
	tool, _, err := s.kv.Get(ctx, activeToolKey(id))
	return tool, err
}

// SetPending records the question session id is waiting on.
func (s *Store) SetPending(ctx context.Context, id, question string) error {
	return s.kv.Set(ctx, pendingKey(id), question)
}

// Pending returns the outstanding question for session id.
func (s *Store) Pending(ctx context.Context, id string) (string, bool, error) {
	return s.kv.Get(ctx, pendingKey(id))
}

// SetAnswer stores the answer to session id's question. Last write wins.
func (s *Store) SetAnswer(ctx context.Context, id, answer string) error {
	return s.kv.Set(ctx, answerKey(id), answer)
}

// Answer returns the stored answer for session id, if any.
func (s *Store) Answer(ctx context.Context, id string) (string, bool, error) {
	return s.kv.Get(ctx, answerKey(id))
}

// ClearPending removes both the question and any answer for session id.
func (s *Store) ClearPending(ctx context.Context, id string) error {
	return s.kv.Atomic(ctx, kv.Delete(pendingKey(id)), kv.Delete(answerKey(id)))
}

// SetMapping associates an external correlation id with session id.
func (s *Store) SetMapping(ctx context.Context, externalID, id string) error {
	return s.kv.Set(ctx, mappingKey(externalID), id)
}

// Mapping returns the session id mapped to externalID.
func (s *Store) Mapping(ctx context.Context, externalID string) (string, bool, error) {
	return s.kv.Get(ctx, mappingKey(externalID))
}
