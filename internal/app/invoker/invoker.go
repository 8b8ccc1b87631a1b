// Package invoker is the command pipeline every mutating operation passes
// through: an ordered, caller-assembled chain of authorization and
// validation checks in front of a handler, producing the uniform
// success-or-error envelope.
package invoker

import (
	"context"
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Concord/internal/adapters/db"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/core"
	"github.com/dkeye/Concord/internal/metrics"
)

// Check is one middleware step. A non-nil result short-circuits the chain.
type Check func(ctx context.Context) *core.DomainError

// Handler executes the command after all checks passed.
type Handler func(ctx context.Context) (any, *core.DomainError)

// OpenStateReader reads the conference open flag.
type OpenStateReader interface {
	IsConferenceOpen(ctx context.Context, conferenceID string) (bool, error)
}

// PermissionResolver builds the caller's permission stack.
type PermissionResolver interface {
	Resolve(ctx context.Context, participant core.Participant) (permissions.Stack, error)
}

// Invoker builds command pipelines for one calling participant. It holds
// no per-call state; every Create starts a fresh chain.
type Invoker struct {
	participant core.Participant
	validate    *validator.Validate
	perms       PermissionResolver
	conf        OpenStateReader
}

func New(participant core.Participant, perms PermissionResolver, conf OpenStateReader, validate *validator.Validate) *Invoker {
	return &Invoker{participant: participant, validate: validate, perms: perms, conf: conf}
}

func (inv *Invoker) Participant() core.Participant { return inv.participant }

// Create starts a pipeline for the named command.
func (inv *Invoker) Create(command string, handler Handler) *Builder {
	return &Builder{inv: inv, command: command, handler: handler}
}

// Builder accumulates checks. Order is significant and caller-controlled:
// checks run exactly in the order they were attached.
type Builder struct {
	inv     *Invoker
	command string
	handler Handler
	checks  []Check
}

// ValidateObject runs struct-tag validation of the inbound DTO. Slice DTOs
// are validated element-wise.
func (b *Builder) ValidateObject(dto any) *Builder {
	b.checks = append(b.checks, func(context.Context) *core.DomainError {
		var err error
		if reflect.ValueOf(dto).Kind() == reflect.Slice {
			err = b.inv.validate.Var(dto, "required,dive")
		} else {
			err = b.inv.validate.Struct(dto)
		}
		if err == nil {
			return nil
		}

		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = "failed validation: " + fe.Tag()
			}
			return core.FieldValidationError(fields)
		}
		return core.RequestError(core.CodeValidationFailed, "invalid request payload")
	})
	return b
}

// RequirePermissions checks that every listed boolean permission resolves
// true for the caller. The denial is deliberately generic so clients
// cannot probe which permission failed.
func (b *Builder) RequirePermissions(keys ...string) *Builder {
	b.checks = append(b.checks, func(ctx context.Context) *core.DomainError {
		if len(keys) == 0 {
			return nil
		}
		stack, err := b.inv.perms.Resolve(ctx, b.inv.participant)
		if err != nil {
			if errors.Is(err, db.ErrConferenceNotFound) {
				return core.ConferenceNotFound(b.inv.participant.ConferenceID)
			}
			log.Error().Str("module", "app.invoker").Str("command", b.command).Err(err).Msg("permission resolve failed")
			return core.InternalError()
		}
		for _, key := range keys {
			allowed, err := stack.GetBool(key)
			if err != nil {
				log.Error().Str("module", "app.invoker").Str("command", b.command).Err(err).Msg("permission lookup failed")
				return core.InternalError()
			}
			if !allowed {
				return core.PermissionDenied()
			}
		}
		return nil
	})
	return b
}

// ConferenceMustBeOpen rejects commands against a closed conference.
func (b *Builder) ConferenceMustBeOpen() *Builder {
	b.checks = append(b.checks, func(ctx context.Context) *core.DomainError {
		open, err := b.inv.conf.IsConferenceOpen(ctx, b.inv.participant.ConferenceID)
		if err != nil {
			if errors.Is(err, db.ErrConferenceNotFound) {
				return core.ConferenceNotFound(b.inv.participant.ConferenceID)
			}
			log.Error().Str("module", "app.invoker").Str("command", b.command).Err(err).Msg("open check failed")
			return core.InternalError()
		}
		if !open {
			return core.ConferenceNotOpen()
		}
		return nil
	})
	return b
}

// Verify attaches a custom predicate.
func (b *Builder) Verify(check Check) *Builder {
	b.checks = append(b.checks, check)
	return b
}

// Send runs the chain; the first failing check's error is returned without
// invoking later checks or the handler. Handler panics become a generic
// internal error, never an unhandled fault toward the transport.
func (b *Builder) Send(ctx context.Context) (result core.SuccessOrError) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.invoker").Str("command", b.command).
				Interface("panic", r).Msg("handler panicked")
			result = core.Fail(core.InternalError())
		}
		metrics.CommandsTotal.WithLabelValues(b.command, outcome(result)).Inc()
	}()

	for _, check := range b.checks {
		if err := check(ctx); err != nil {
			return core.Fail(err)
		}
	}

	response, err := b.handler(ctx)
	if err != nil {
		return core.Fail(err)
	}
	if response == nil {
		return core.OkEmpty()
	}
	return core.Ok(response)
}

func outcome(result core.SuccessOrError) string {
	if result.Success {
		return "success"
	}
	if result.Error == nil {
		return string(core.TypeInternalError)
	}
	return string(result.Error.Type)
}
