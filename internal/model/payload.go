package model

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/Adriangar333/Traceops-sub000/internal/syncerr"
)

// PayloadVersion is the snapshot format version written by EncodeAction.
const PayloadVersion = 1

//go:embed payload.cue
var payloadSchema string

type snapshot struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// schemaSet holds the compiled payload definitions. cue.Context is not safe
// for concurrent use, so every validation holds mu.
type schemaSet struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[ActionKind]cue.Value
	err  error
}

var (
	schemaOnce sync.Once
	schemas    *schemaSet
)

func loadSchemas() *schemaSet {
	schemaOnce.Do(func() {
		s := &schemaSet{ctx: cuecontext.New(), defs: make(map[ActionKind]cue.Value)}
		root := s.ctx.CompileString(payloadSchema, cue.Filename("payload.cue"))
		if err := root.Err(); err != nil {
			s.err = fmt.Errorf("compile payload schema: %s", formatCUEError(err))
			schemas = s
			return
		}
		for _, kind := range []ActionKind{ActionUpdateStatus, ActionUploadEvidence} {
			def := root.LookupPath(cue.ParsePath("#" + string(kind)))
			if !def.Exists() {
				s.err = fmt.Errorf("payload schema: missing definition for %s", kind)
				break
			}
			s.defs[kind] = def
		}
		schemas = s
	})
	return schemas
}

func (s *schemaSet) validate(kind ActionKind, raw []byte) error {
	if s.err != nil {
		return s.err
	}
	def, ok := s.defs[kind]
	if !ok {
		return fmt.Errorf("unknown action %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.CompileBytes(raw, cue.Filename(string(kind)+".json"))
	if err := v.Err(); err != nil {
		return fmt.Errorf("parse snapshot: %s", formatCUEError(err))
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("snapshot does not match %s: %s", kind, formatCUEError(err))
	}
	return nil
}

func formatCUEError(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	return errs[0].Error()
}

// EncodeAction serializes an action into the frozen snapshot stored in a
// queue row. The snapshot is validated before it is returned so a malformed
// action never reaches the queue.
func EncodeAction(a Action) ([]byte, error) {
	if a == nil {
		return nil, syncerr.InvalidPayload("nil action", nil)
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Kind(), err)
	}
	raw, err := json.Marshal(snapshot{Version: PayloadVersion, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Kind(), err)
	}
	if err := loadSchemas().validate(a.Kind(), raw); err != nil {
		return nil, syncerr.InvalidPayload("encode "+string(a.Kind()), err)
	}
	return raw, nil
}

// DecodeAction validates a stored snapshot against the schema for kind and
// returns the action it describes.
func DecodeAction(kind ActionKind, raw []byte) (Action, error) {
	if err := loadSchemas().validate(kind, raw); err != nil {
		return nil, syncerr.InvalidPayload("decode "+string(kind), err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, syncerr.InvalidPayload("decode "+string(kind), err)
	}

	switch kind {
	case ActionUpdateStatus:
		var a UpdateStatus
		if err := json.Unmarshal(snap.Data, &a); err != nil {
			return nil, syncerr.InvalidPayload("decode "+string(kind), err)
		}
		return a, nil
	case ActionUploadEvidence:
		var a UploadEvidence
		if err := json.Unmarshal(snap.Data, &a); err != nil {
			return nil, syncerr.InvalidPayload("decode "+string(kind), err)
		}
		return a, nil
	}
	return nil, syncerr.InvalidPayload(fmt.Sprintf("unknown action %q", kind), nil)
}
