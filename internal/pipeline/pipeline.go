// Package pipeline orchestrates the validation lifecycle: receive a webhook
// payload into a durable request, then process it through fact collection,
// synthesis, write-back, and the terminal state transition.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mobizinc/changegate/internal/collector"
	"github.com/Mobizinc/changegate/internal/storage"
	"github.com/Mobizinc/changegate/internal/synthesis"
	"github.com/Mobizinc/changegate/internal/types"
)

// WorkNotePoster writes the verdict back to the change record. The ServiceNow
// client satisfies this; tests substitute fakes.
type WorkNotePoster interface {
	PostWorkNote(ctx context.Context, changeSysID, text string) error
}

// Payload is the inbound webhook body. Unknown fields are preserved verbatim
// in the stored raw payload, not here.
type Payload struct {
	ChangeSysID    string `json:"change_sys_id"`
	ChangeNumber   string `json:"change_number"`
	State          string `json:"state"`
	ComponentType  string `json:"component_type"`
	ComponentSysID string `json:"component_sys_id,omitempty"`
	SubmittedBy    string `json:"submitted_by,omitempty"`
}

// Config wires a Pipeline.
type Config struct {
	Store       storage.Store
	Collector   *collector.Collector
	Synthesizer *synthesis.Synthesizer
	Notes       WorkNotePoster // nil disables verdict write-back
	Logger      *slog.Logger
}

// Pipeline is the orchestrator. Safe for concurrent use; per-change
// serialization is the queue's job, state monotonicity is the store's.
type Pipeline struct {
	store       storage.Store
	collector   *collector.Collector
	synthesizer *synthesis.Synthesizer
	notes       WorkNotePoster
	logger      *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:       cfg.Store,
		collector:   cfg.Collector,
		synthesizer: cfg.Synthesizer,
		notes:       cfg.Notes,
		logger:      cfg.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Receive validates the payload and persists a new validation request in
// status received. A duplicate change ID is not an error: the existing row is
// returned unchanged (idempotent receipt), so webhook redelivery is harmless.
func (p *Pipeline) Receive(ctx context.Context, raw json.RawMessage, signature string) (*types.ValidationRequest, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, &ValidationError{Msg: "body is not valid JSON"}
	}
	if err := validatePayload(&payload); err != nil {
		return nil, err
	}

	req := &types.ValidationRequest{
		ID:               uuid.NewString(),
		ChangeID:         payload.ChangeSysID,
		ChangeNumber:     payload.ChangeNumber,
		ComponentType:    payload.ComponentType,
		ComponentID:      payload.ComponentSysID,
		RawPayload:       append(json.RawMessage(nil), raw...),
		RequestSignature: signature,
		RequestedBy:      payload.SubmittedBy,
		Status:           types.StatusReceived,
	}

	if err := p.store.Create(ctx, req); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			existing, getErr := p.store.GetByChangeID(ctx, payload.ChangeSysID)
			if getErr != nil {
				return nil, getErr
			}
			p.logger.Info("duplicate webhook for change, returning existing request",
				"change_id", payload.ChangeSysID,
				"status", existing.Status)
			return existing, nil
		}
		return nil, err
	}

	p.logger.Info("validation request received",
		"change_id", req.ChangeID,
		"change_number", req.ChangeNumber,
		"component_type", req.ComponentType)
	return p.store.GetByChangeID(ctx, req.ChangeID)
}

func validatePayload(payload *Payload) error {
	switch {
	case payload.ChangeSysID == "":
		return &ValidationError{Field: "change_sys_id", Msg: "required"}
	case payload.ChangeNumber == "":
		return &ValidationError{Field: "change_number", Msg: "required"}
	case payload.State == "":
		return &ValidationError{Field: "state", Msg: "required"}
	case payload.ComponentType == "":
		return &ValidationError{Field: "component_type", Msg: "required"}
	}
	return nil
}

// Get returns the stored validation request for the change.
func (p *Pipeline) Get(ctx context.Context, changeID string) (*types.ValidationRequest, error) {
	req, err := p.store.GetByChangeID(ctx, changeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{ChangeID: changeID}
		}
		return nil, err
	}
	return req, nil
}

// Process runs one full validation attempt for the change. Every attempt is a
// complete restart: collect, synthesize, post, complete. The verdict is
// returned on success; a ProcessingError means the row was marked failed.
//
// Posting the work note is best-effort. A write-back failure is logged and
// the request still completes: the verdict is durable in the store either way.
func (p *Pipeline) Process(ctx context.Context, changeID string) (*types.Verdict, error) {
	req, err := p.store.GetByChangeID(ctx, changeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &NotFoundError{ChangeID: changeID}
		}
		return nil, err
	}

	req, err = p.store.MarkProcessing(ctx, changeID)
	if err != nil {
		return nil, err
	}
	if req.Status.Terminal() {
		// A concurrent attempt already finished this change.
		p.logger.Info("change already in terminal state, skipping",
			"change_id", changeID, "status", req.Status)
		return req.Verdict, nil
	}

	start := time.Now()
	bundle := p.collector.Collect(ctx, req)

	if err := ctx.Err(); err != nil {
		return nil, p.fail(ctx, changeID, "collection", err)
	}

	verdict := p.synthesizer.Synthesize(ctx, req, bundle)

	if err := ctx.Err(); err != nil {
		return nil, p.fail(ctx, changeID, "synthesis", err)
	}

	p.postVerdict(ctx, req, verdict)

	durationMs := time.Since(start).Milliseconds()
	if _, err := p.store.MarkCompleted(ctx, changeID, verdict, durationMs); err != nil {
		return nil, err
	}

	p.logger.Info("validation completed",
		"change_id", changeID,
		"change_number", req.ChangeNumber,
		"overall_status", verdict.OverallStatus,
		"duration_ms", durationMs,
		"retry_count", req.RetryCount)
	return verdict, nil
}

// fail marks the row failed and wraps the cause. The MarkFailed itself is best
// effort: if the store is also down there is nothing more to record.
func (p *Pipeline) fail(ctx context.Context, changeID, stage string, cause error) error {
	perr := &ProcessingError{ChangeID: changeID, Stage: stage, Err: cause}

	// Use a detached context so a canceled request context can still persist
	// the failure reason.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := p.store.MarkFailed(markCtx, changeID, perr.Error()); err != nil {
		p.logger.Error("could not mark request failed",
			"change_id", changeID, "error", err)
	}
	return perr
}

func (p *Pipeline) postVerdict(ctx context.Context, req *types.ValidationRequest, verdict *types.Verdict) {
	if p.notes == nil {
		return
	}
	note := RenderWorkNote(req, verdict)
	if err := p.notes.PostWorkNote(ctx, req.ChangeID, note); err != nil {
		perr := &PostingError{ChangeID: req.ChangeID, Err: err}
		p.logger.Warn("verdict write-back failed",
			"change_id", req.ChangeID,
			"change_number", req.ChangeNumber,
			"error", perr)
	}
}
