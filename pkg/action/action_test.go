package action

import (
	"context"
	"testing"

	"github.com/wheelos-io/thingcore/pkg/status"
)

func TestRegisterDuplicateNameFails(t *testing.T) {
	r := NewRegistry()
	handler := FireAndForget(func(ctx context.Context) Result { return Result{Status: status.Success} })

	if err := r.Register("reboot", handler); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register("reboot", handler); err == nil {
		t.Error("expected second Register of the same name to fail")
	}
}

func TestExecuteUnregisteredActionReturnsNotFound(t *testing.T) {
	r := NewRegistry()
	result := r.Execute(context.Background(), Request{Name: "unknown"})
	if result.Status != status.NotFound {
		t.Errorf("Status = %v, want NotFound", result.Status)
	}
}

func TestExecuteFireAndForget(t *testing.T) {
	r := NewRegistry()
	called := false
	_ = r.Register("ping", FireAndForget(func(ctx context.Context) Result {
		called = true
		return Result{Status: status.Success}
	}))

	result := r.Execute(context.Background(), Request{Name: "ping"})
	if !called {
		t.Error("expected FireAndForget handler to be invoked")
	}
	if result.Status != status.Success {
		t.Errorf("Status = %v, want Success", result.Status)
	}
}

func TestExecuteWithRequestReceivesParams(t *testing.T) {
	r := NewRegistry()
	var gotParams map[string]any
	_ = r.Register("configure", WithRequest(func(ctx context.Context, req Request) Result {
		gotParams = req.Params
		return Result{Status: status.Success}
	}))

	req := Request{Name: "configure", RequestID: "req-1", Params: map[string]any{"interval": 5}}
	r.Execute(context.Background(), req)
	if gotParams["interval"] != 5 {
		t.Errorf("Params = %v, want interval=5", gotParams)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("crash", FireAndForget(func(ctx context.Context) Result {
		panic("boom")
	}))

	result := r.Execute(context.Background(), Request{Name: "crash"})
	if result.Status != status.Failure {
		t.Errorf("Status = %v, want Failure", result.Status)
	}
}

func TestExecuteInvalidReturnStatusDowngradesToBadParameter(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("broken", FireAndForget(func(ctx context.Context) Result {
		return Result{Status: status.Code(999)}
	}))

	result := r.Execute(context.Background(), Request{Name: "broken"})
	if result.Status != status.BadParameter {
		t.Errorf("Status = %v, want BadParameter", result.Status)
	}
}

func TestBuildFlagsOmitsFalseAndBaresTrue(t *testing.T) {
	flags := buildFlags(map[string]any{
		"verbose": true,
		"dryrun":  false,
		"count":   3,
	})
	want := []string{"--count=3", "--verbose"}
	if len(flags) != len(want) {
		t.Fatalf("flags = %v, want %v", flags, want)
	}
	for i := range want {
		if flags[i] != want[i] {
			t.Errorf("flags[%d] = %q, want %q", i, flags[i], want[i])
		}
	}
}

func TestDeregisterUnknownActionFails(t *testing.T) {
	r := NewRegistry()
	if err := r.Deregister("missing"); err == nil {
		t.Error("expected Deregister of an unknown action to fail")
	}
}
