package invoker

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/dkeye/Concord/internal/adapters/db"
	"github.com/dkeye/Concord/internal/app/permissions"
	"github.com/dkeye/Concord/internal/core"
)

type fakePerms struct {
	layers []permissions.Layer
	err    error
}

func (f *fakePerms) Resolve(context.Context, core.Participant) (permissions.Stack, error) {
	if f.err != nil {
		return permissions.Stack{}, f.err
	}
	return permissions.NewStack(f.layers), nil
}

type fakeOpenState struct {
	open bool
	err  error
}

func (f *fakeOpenState) IsConferenceOpen(context.Context, string) (bool, error) {
	return f.open, f.err
}

func grant(keys ...string) *fakePerms {
	values := make(map[string]any, len(keys))
	for _, k := range keys {
		values[k] = true
	}
	return &fakePerms{layers: []permissions.Layer{
		{Name: "conference", Order: permissions.OrderConference, Values: values},
	}}
}

func newInvoker(perms *fakePerms, open bool) *Invoker {
	p := core.NewParticipant("conf1", "u1")
	return New(p, perms, &fakeOpenState{open: open}, validator.New())
}

func okHandler(called *bool) Handler {
	return func(context.Context) (any, *core.DomainError) {
		*called = true
		return nil, nil
	}
}

func TestSendRunsHandler(t *testing.T) {
	inv := newInvoker(grant(), true)
	var called bool

	result := inv.Create("Test", okHandler(&called)).Send(context.Background())
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if !called {
		t.Error("handler must run")
	}
}

func TestSendReturnsHandlerResponse(t *testing.T) {
	inv := newInvoker(grant(), true)
	result := inv.Create("Test", func(context.Context) (any, *core.DomainError) {
		return map[string]string{"token": "abc"}, nil
	}).Send(context.Background())
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Response == nil {
		t.Error("response payload missing")
	}
}

func TestChecksRunInOrderAndShortCircuit(t *testing.T) {
	inv := newInvoker(grant(), true)
	var order []string
	var called bool

	result := inv.Create("Test", okHandler(&called)).
		Verify(func(context.Context) *core.DomainError {
			order = append(order, "first")
			return nil
		}).
		Verify(func(context.Context) *core.DomainError {
			order = append(order, "second")
			return core.PermissionDenied()
		}).
		Verify(func(context.Context) *core.DomainError {
			order = append(order, "third")
			return nil
		}).
		Send(context.Background())

	if result.Success {
		t.Fatal("failing check must fail the command")
	}
	if called {
		t.Error("handler must not run after a failed check")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("check order = %v", order)
	}
}

func TestValidateObject(t *testing.T) {
	type dto struct {
		Name string `json:"name" validate:"required"`
	}

	inv := newInvoker(grant(), true)
	var called bool
	result := inv.Create("Test", okHandler(&called)).
		ValidateObject(dto{}).
		Send(context.Background())

	if result.Success {
		t.Fatal("invalid dto must fail")
	}
	if result.Error.Code != core.CodeValidationFailed {
		t.Errorf("code = %d", result.Error.Code)
	}
	if _, ok := result.Error.Fields["Name"]; !ok {
		t.Errorf("fields = %v", result.Error.Fields)
	}

	result = inv.Create("Test", okHandler(&called)).
		ValidateObject(dto{Name: "x"}).
		Send(context.Background())
	if !result.Success {
		t.Fatalf("valid dto rejected: %+v", result)
	}
}

func TestValidateObjectSlice(t *testing.T) {
	type item struct {
		Name string `validate:"required"`
	}

	inv := newInvoker(grant(), true)
	var called bool
	result := inv.Create("Test", okHandler(&called)).
		ValidateObject([]item{{Name: "ok"}, {}}).
		Send(context.Background())
	if result.Success {
		t.Fatal("slice with an invalid element must fail")
	}
}

func TestRequirePermissions(t *testing.T) {
	var called bool

	inv := newInvoker(grant(permissions.PermRoomsCanCreateAndRemove), true)
	result := inv.Create("Test", okHandler(&called)).
		RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
		Send(context.Background())
	if !result.Success {
		t.Fatalf("granted permission rejected: %+v", result)
	}

	inv = newInvoker(grant(), true)
	result = inv.Create("Test", okHandler(&called)).
		RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
		Send(context.Background())
	if result.Success {
		t.Fatal("missing permission must fail")
	}
	if result.Error.Code != core.CodePermissionDenied {
		t.Errorf("code = %d", result.Error.Code)
	}
	// The denial does not leak which permission was missing.
	if result.Error.Message != "permission denied" {
		t.Errorf("message = %q", result.Error.Message)
	}
}

func TestRequirePermissionsUnknownConference(t *testing.T) {
	inv := newInvoker(&fakePerms{err: db.ErrConferenceNotFound}, true)
	var called bool
	result := inv.Create("Test", okHandler(&called)).
		RequirePermissions(permissions.PermRoomsCanCreateAndRemove).
		Send(context.Background())
	if result.Success || result.Error.Code != core.CodeConferenceNotFound {
		t.Fatalf("result = %+v", result)
	}
}

func TestConferenceMustBeOpen(t *testing.T) {
	var called bool

	inv := newInvoker(grant(), false)
	result := inv.Create("Test", okHandler(&called)).
		ConferenceMustBeOpen().
		Send(context.Background())
	if result.Success {
		t.Fatal("closed conference must fail the command")
	}
	if result.Error.Code != core.CodeConferenceNotOpen {
		t.Errorf("code = %d", result.Error.Code)
	}

	inv = newInvoker(grant(), true)
	result = inv.Create("Test", okHandler(&called)).
		ConferenceMustBeOpen().
		Send(context.Background())
	if !result.Success {
		t.Fatalf("open conference rejected: %+v", result)
	}
}

func TestHandlerPanicBecomesInternalError(t *testing.T) {
	inv := newInvoker(grant(), true)
	result := inv.Create("Test", func(context.Context) (any, *core.DomainError) {
		panic("boom")
	}).Send(context.Background())

	if result.Success {
		t.Fatal("panicking handler must fail")
	}
	if result.Error.Type != core.TypeInternalError {
		t.Errorf("type = %s", result.Error.Type)
	}
}
