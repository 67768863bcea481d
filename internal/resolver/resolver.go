// Package resolver decides how a reported conflict is settled. It is pure:
// it reads a conflict and returns what the client should adopt or resubmit.
package resolver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/hyperengineering/tasksync/internal/entity"
	tasksync "github.com/hyperengineering/tasksync/internal/sync"
)

// Strategy selects how a conflict is settled.
type Strategy string

const (
	ServerWins Strategy = "server_wins"
	ClientWins Strategy = "client_wins"
	Merge      Strategy = "merge"
	Manual     Strategy = "manual"
)

// Strategies lists every supported strategy.
var Strategies = []Strategy{ServerWins, ClientWins, Merge, Manual}

var (
	// ErrUnknownStrategy is returned for a strategy outside Strategies.
	ErrUnknownStrategy = errors.New("unknown resolution strategy")

	// ErrNoServerCopy is returned when a strategy needs the server's
	// record but the conflict carries none (reason not_found).
	ErrNoServerCopy = errors.New("conflict has no server copy")
)

// ParseStrategy validates s.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Resolution is the decision for one conflict.
type Resolution struct {
	Strategy Strategy `json:"strategy"`
	// Resubmit is the operation to push next, if any.
	Resubmit *tasksync.Operation `json:"resubmit,omitempty"`
	// Adopt is the server record the client should store locally.
	Adopt json.RawMessage `json:"adopt,omitempty"`
	// Payload is the client data awaiting review, or for a partial merge
	// the fields that merged cleanly.
	Payload     json.RawMessage `json:"payload,omitempty"`
	NeedsReview bool            `json:"needsReview"`
	// Residuals names fields both sides changed to different values.
	Residuals []string `json:"residuals,omitempty"`
}

// Final reports whether the conflict is closed by this resolution.
func (r Resolution) Final() bool {
	return !r.NeedsReview
}

// Resolve applies strategy to c.
func Resolve(c tasksync.ConflictRecord, strategy Strategy) (Resolution, error) {
	switch strategy {
	case ServerWins:
		return Resolution{Strategy: ServerWins, Adopt: c.ServerData}, nil
	case ClientWins:
		return clientWins(c)
	case Merge:
		return merge(c)
	case Manual:
		return Resolution{Strategy: Manual, Payload: c.ClientData, NeedsReview: true}, nil
	default:
		return Resolution{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
}

// serverHead is the part of a server record a resubmission needs.
type serverHead struct {
	ID          string `json:"id"`
	SyncVersion int64  `json:"syncVersion"`
}

func parseServerHead(raw json.RawMessage) (serverHead, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return serverHead{}, ErrNoServerCopy
	}
	var h serverHead
	if err := json.Unmarshal(raw, &h); err != nil {
		return serverHead{}, fmt.Errorf("decode server copy: %w", err)
	}
	if h.ID == "" {
		return serverHead{}, ErrNoServerCopy
	}
	return h, nil
}

// resubmitOp targets the server record at its current version, so the next
// push passes the version check. A lost create becomes an update.
func resubmitOp(c tasksync.ConflictRecord, h serverHead, data json.RawMessage) *tasksync.Operation {
	op := c.Operation
	if op != tasksync.OpDelete {
		op = tasksync.OpUpdate
	}
	v := h.SyncVersion
	return &tasksync.Operation{
		EntityKind:        c.EntityType,
		Operation:         op,
		Data:              data,
		EntityID:          h.ID,
		ClientGeneratedID: c.ClientGeneratedID,
		ClientVersion:     &v,
	}
}

func clientWins(c tasksync.ConflictRecord) (Resolution, error) {
	h, err := parseServerHead(c.ServerData)
	if err != nil {
		return Resolution{}, err
	}
	data := c.ClientData
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	return Resolution{Strategy: ClientWins, Resubmit: resubmitOp(c, h, data)}, nil
}

func merge(c tasksync.ConflictRecord) (Resolution, error) {
	h, err := parseServerHead(c.ServerData)
	if err != nil {
		return Resolution{}, err
	}

	if c.Operation == tasksync.OpDelete {
		// A delete against a changed record is never merged automatically.
		return Resolution{Strategy: Merge, Payload: c.ClientData, NeedsReview: true}, nil
	}

	client, err := decodeFields(c.ClientData)
	if err != nil {
		return Resolution{}, fmt.Errorf("decode client data: %w", err)
	}
	server, err := decodeFields(c.ServerData)
	if err != nil {
		return Resolution{}, fmt.Errorf("decode server copy: %w", err)
	}

	merged := make(map[string]any)
	var residuals []string
	for field, cv := range client {
		if entity.IsBookkeeping(field) {
			continue
		}
		sv, onServer := server[field]
		switch {
		case !onServer:
			merged[field] = cv
		case sameValue(cv, sv):
		case isEmpty(cv):
			// server is more specific
		case isEmpty(sv):
			merged[field] = cv
		default:
			residuals = append(residuals, field)
		}
	}
	sort.Strings(residuals)

	res := Resolution{Strategy: Merge}
	if len(residuals) > 0 {
		res.NeedsReview = true
		res.Residuals = residuals
		if len(merged) > 0 {
			if res.Payload, err = encodeMerged(merged); err != nil {
				return Resolution{}, err
			}
		}
		return res, nil
	}
	if len(merged) == 0 {
		res.Adopt = c.ServerData
		return res, nil
	}

	data, err := encodeMerged(merged)
	if err != nil {
		return Resolution{}, err
	}
	res.Resubmit = resubmitOp(c, h, data)
	return res, nil
}

// marshalJSON is replaced in tests.
var marshalJSON = json.Marshal

func encodeMerged(merged map[string]any) (json.RawMessage, error) {
	data, err := marshalJSON(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged data: %w", err)
	}
	return data, nil
}

func decodeFields(raw json.RawMessage) (map[string]any, error) {
	fields := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return fields, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// sameValue compares decoded JSON values. Timestamps written with
// different precision compare equal.
func sameValue(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if ok1 && ok2 {
		at, err1 := time.Parse(time.RFC3339Nano, as)
		bt, err2 := time.Parse(time.RFC3339Nano, bs)
		return err1 == nil && err2 == nil && at.Equal(bt)
	}
	an, ok1 := a.(json.Number)
	bn, ok2 := b.(json.Number)
	if ok1 && ok2 {
		af, err1 := an.Float64()
		bf, err2 := bn.Float64()
		return err1 == nil && err2 == nil && af == bf
	}
	return false
}
