// Package kv is the key-value store client shared by every tinymem component.
// It exposes string keys, unordered sets, ordered lists and an atomic batch
// primitive over a pluggable backend (Redis or SQLite).
package kv

import (
	"context"
	"errors"
	"fmt"
)

// ErrBackend marks failures talking to the backing store. Callers may retry;
// the core never does.
var ErrBackend = errors.New("kv backend failure")

// OpKind identifies the write performed by an Op.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
	OpSetAdd
	OpSetRemove
	OpListPushHead
	OpListPushTail
	OpListRemove
)

// String returns the Redis command name of the operation.
func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "SET"
	case OpDelete:
		return "DEL"
	case OpSetAdd:
		return "SADD"
	case OpSetRemove:
		return "SREM"
	case OpListPushHead:
		return "LPUSH"
	case OpListPushTail:
		return "RPUSH"
	case OpListRemove:
		return "LREM"
	default:
		return "UNKNOWN"
	}
}

// Op is a single write inside an atomic batch.
type Op struct {
	Kind  OpKind
	Key   string
	Value string
	// Count is only used by OpListRemove and follows LREM semantics:
	// >0 removes from head, <0 from tail, 0 removes every occurrence.
	Count int64
}

// Set writes value under key.
func Set(key, value string) Op { return Op{Kind: OpSet, Key: key, Value: value} }

// Delete removes key whatever its type.
func Delete(key string) Op { return Op{Kind: OpDelete, Key: key} }

// SetAdd adds member to the set.
func SetAdd(set, member string) Op { return Op{Kind: OpSetAdd, Key: set, Value: member} }

// SetRemove removes member from the set.
func SetRemove(set, member string) Op { return Op{Kind: OpSetRemove, Key: set, Value: member} }

// PushHead prepends value to the list.
func PushHead(list, value string) Op { return Op{Kind: OpListPushHead, Key: list, Value: value} }

// PushTail appends value to the list.
func PushTail(list, value string) Op { return Op{Kind: OpListPushTail, Key: list, Value: value} }

// ListRemove removes up to count occurrences of value from the list.
func ListRemove(list string, count int64, value string) Op {
	return Op{Kind: OpListRemove, Key: list, Value: value, Count: count}
}

// Store is the contract every backend implements. Missing keys are not
// errors: Get reports them through the boolean, Members and Range return
// empty slices.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error

	AddToSet(ctx context.Context, set, member string) error
	RemoveFromSet(ctx context.Context, set, member string) error
	Members(ctx context.Context, set string) ([]string, error)

	Append(ctx context.Context, list, value string) error
	// Range returns list elements between start and stop inclusive.
	// Negative indexes count from the tail, as in LRANGE.
	Range(ctx context.Context, list string, start, stop int64) ([]string, error)

	// Atomic applies every op as one unit: either all are observable or none.
	Atomic(ctx context.Context, ops ...Op) error

	Close() error
}

func backendErr(op, key string, err error) error {
	return fmt.Errorf("kv %s %q: %w: %w", op, key, ErrBackend, err)
}

// normalizeRange maps LRANGE style indexes onto [0, n). ok is false when the
// window is empty.
func normalizeRange(start, stop, n int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
