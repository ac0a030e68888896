package kit

import (
	"context"
	"errors"
	"testing"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}
	base := func(context.Context, any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil || resp != "ok" {
		t.Fatalf("got %v, %v", resp, err)
	}
	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if len(order) != len(want) {
		t.Fatalf("order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]: got %q, want %q", i, order[i], want[i])
		}
	}
}

func TestLoggingPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	ep := Logging(nil, "test")(func(context.Context, any) (any, error) { return nil, boom })
	if _, err := ep(context.Background(), nil); !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if GetTransport(ctx) != "http" || GetRequestID(ctx) != "" || GetSessionID(ctx) != "" {
		t.Fatal("unexpected defaults")
	}
	ctx = WithSessionID(WithRequestID(WithTransport(ctx, "mcp"), "req_1"), "ses_1")
	if GetTransport(ctx) != "mcp" || GetRequestID(ctx) != "req_1" || GetSessionID(ctx) != "ses_1" {
		t.Fatal("values not carried")
	}
}
