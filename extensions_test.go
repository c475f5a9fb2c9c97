package x402

import (
	"context"
	"errors"
	"testing"
)

type mockExtension struct {
	key string

	enrichDeclaration func(declaration interface{}, transportContext interface{}) interface{}
	enrichRequired    func(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error)
	enrichSettlement  func(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error)
}

func (m *mockExtension) Key() string { return m.key }

func (m *mockExtension) EnrichDeclaration(declaration interface{}, transportContext interface{}) interface{} {
	return m.enrichDeclaration(declaration, transportContext)
}

func (m *mockExtension) EnrichPaymentRequiredResponse(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
	return m.enrichRequired(ctx, declaration, ec)
}

func (m *mockExtension) EnrichSettlementResponse(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
	return m.enrichSettlement(ctx, declaration, ec)
}

// requiredOnlyExtension opts into the 402 enrichment point but not
// settlement.
type requiredOnlyExtension struct {
	key string
}

func (e *requiredOnlyExtension) Key() string { return e.key }

func (e *requiredOnlyExtension) EnrichPaymentRequiredResponse(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
	return map[string]interface{}{"supported": true}, nil
}

type mockHook struct {
	handle func(ctx context.Context, rc *RequestContext) error
}

func (m *mockHook) HandleRequest(ctx context.Context, rc *RequestContext) error {
	return m.handle(ctx, rc)
}

func TestEnrichDeclarations(t *testing.T) {
	ext := &mockExtension{
		key: "timing",
		enrichDeclaration: func(declaration interface{}, transportContext interface{}) interface{} {
			return map[string]interface{}{"refreshed": true}
		},
	}
	server := NewResourceServer(WithExtension(ext))

	declared := map[string]interface{}{
		"timing":  map[string]interface{}{"refreshed": false},
		"unknown": "opaque",
	}
	enriched := server.EnrichDeclarations(declared, nil)

	timing, ok := enriched["timing"].(map[string]interface{})
	if !ok || timing["refreshed"] != true {
		t.Errorf("expected refreshed declaration, got %+v", enriched["timing"])
	}
	if enriched["unknown"] != "opaque" {
		t.Error("declarations without a registered extension must pass through")
	}
}

func TestEnrichDeclarationsPanicKeepsOriginal(t *testing.T) {
	ext := &mockExtension{
		key: "bad",
		enrichDeclaration: func(interface{}, interface{}) interface{} {
			panic("boom")
		},
	}
	server := NewResourceServer(WithExtension(ext))

	enriched := server.EnrichDeclarations(map[string]interface{}{"bad": "original"}, nil)
	if enriched["bad"] != "original" {
		t.Errorf("expected original declaration after panic, got %+v", enriched["bad"])
	}
}

func TestBuildPaymentRequiredExtensions(t *testing.T) {
	contributing := &mockExtension{
		key: "session",
		enrichRequired: func(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
			return map[string]interface{}{"supported": true}, nil
		},
	}
	declining := &mockExtension{
		key: "quiet",
		enrichRequired: func(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
			return nil, nil
		},
	}
	failing := &mockExtension{
		key: "flaky",
		enrichRequired: func(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
			return nil, errors.New("backend down")
		},
	}
	panicking := &mockExtension{
		key: "explosive",
		enrichRequired: func(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
			panic("boom")
		},
	}

	server := NewResourceServer(
		WithExtension(contributing),
		WithExtension(declining),
		WithExtension(failing),
		WithExtension(panicking),
	)

	declared := map[string]interface{}{
		"session":      map[string]interface{}{},
		"quiet":        map[string]interface{}{},
		"flaky":        map[string]interface{}{},
		"explosive":    map[string]interface{}{},
		"unregistered": map[string]interface{}{},
	}

	out := server.BuildPaymentRequiredExtensions(context.Background(), declared, ExtensionContext{})
	if len(out) != 1 {
		t.Fatalf("expected only the contributing extension in output, got %+v", out)
	}
	session, ok := out["session"].(map[string]interface{})
	if !ok || session["supported"] != true {
		t.Errorf("unexpected contribution: %+v", out["session"])
	}
}

func TestBuildPaymentRequiredExtensionsEmptyDeclared(t *testing.T) {
	server := NewResourceServer()
	if out := server.BuildPaymentRequiredExtensions(context.Background(), nil, ExtensionContext{}); out != nil {
		t.Errorf("expected nil for no declarations, got %+v", out)
	}
}

func TestBuildSettlementExtensionsSkipsNonSettlement(t *testing.T) {
	settling := &mockExtension{
		key: "receipts",
		enrichSettlement: func(ctx context.Context, declaration interface{}, ec ExtensionContext) (interface{}, error) {
			return map[string]interface{}{"recorded": true}, nil
		},
	}
	server := NewResourceServer(
		WithExtension(settling),
		WithExtension(&requiredOnlyExtension{key: "advertise"}),
	)

	declared := map[string]interface{}{
		"receipts":  map[string]interface{}{},
		"advertise": map[string]interface{}{},
	}
	out := server.BuildSettlementExtensions(context.Background(), declared, ExtensionContext{
		Settlement: &SettleResponse{Success: true, Payer: "0xpayer"},
	})

	if len(out) != 1 {
		t.Fatalf("expected only settlement enrichers to contribute, got %+v", out)
	}
	if _, ok := out["receipts"]; !ok {
		t.Error("expected receipts contribution")
	}
}

func TestRunRequestHooksStopsAtFirstGrant(t *testing.T) {
	var secondRan bool

	first := &mockHook{handle: func(ctx context.Context, rc *RequestContext) error {
		rc.GrantBypass("0xfirst")
		return nil
	}}
	second := &mockHook{handle: func(ctx context.Context, rc *RequestContext) error {
		secondRan = true
		rc.GrantBypass("0xsecond")
		return nil
	}}

	server := NewResourceServer(WithRequestHook(first), WithRequestHook(second))

	rc := &RequestContext{Resource: "/weather", Method: "GET"}
	server.RunRequestHooks(context.Background(), rc)

	payer, ok := rc.Bypassed()
	if !ok || payer != "0xfirst" {
		t.Errorf("expected bypass by first hook, got (%q, %v)", payer, ok)
	}
	if secondRan {
		t.Error("second hook must not run after a grant")
	}
}

func TestRunRequestHooksErrorFallsThrough(t *testing.T) {
	failing := &mockHook{handle: func(ctx context.Context, rc *RequestContext) error {
		return errors.New("no proof")
	}}
	granting := &mockHook{handle: func(ctx context.Context, rc *RequestContext) error {
		rc.GrantBypass("0xlater")
		return nil
	}}

	server := NewResourceServer(WithRequestHook(failing), WithRequestHook(granting))

	rc := &RequestContext{Resource: "/weather", Method: "GET"}
	server.RunRequestHooks(context.Background(), rc)

	if payer, ok := rc.Bypassed(); !ok || payer != "0xlater" {
		t.Errorf("expected later hook to grant after earlier error, got (%q, %v)", payer, ok)
	}
}

func TestRunRequestHooksPanicContained(t *testing.T) {
	panicking := &mockHook{handle: func(ctx context.Context, rc *RequestContext) error {
		panic("boom")
	}}

	server := NewResourceServer(WithRequestHook(panicking))

	rc := &RequestContext{Resource: "/weather", Method: "GET"}
	server.RunRequestHooks(context.Background(), rc)

	if _, ok := rc.Bypassed(); ok {
		t.Error("a panicking hook must not grant bypass")
	}
}
