package functions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("lookup_customer", func(ctx context.Context, call Call) (json.RawMessage, error) {
		var args map[string]string
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"name": "Ada", "phone": args["phone"]})
	})

	res, err := reg.Dispatch(context.Background(), Call{
		Name:   "lookup_customer",
		Args:   json.RawMessage(`{"phone":"+15550001111"}`),
		CallID: "CA1",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var out map[string]string
	if err := json.Unmarshal(res, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if out["phone"] != "+15550001111" {
		t.Fatalf("result = %v", out)
	}
}

func TestRegistryUnknownFunction(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Dispatch(context.Background(), Call{Name: "nope"})
	if !errors.Is(err, ErrUnknownFunction) {
		t.Fatalf("err = %v, want ErrUnknownFunction", err)
	}
}

func TestErrorPayloadIsStructured(t *testing.T) {
	raw := ErrorPayload(errors.New("boom"))
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if out["error"] != "boom" {
		t.Fatalf("payload = %v", out)
	}

	raw = ErrorPayload(nil)
	if err := json.Unmarshal(raw, &out); err != nil || out["error"] == "" {
		t.Fatalf("nil-error payload = %s", raw)
	}
}

func TestWebhookDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call Call
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode call: %v", err)
		}
		if call.Name != "book_appointment" {
			t.Errorf("name = %q", call.Name)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"booked":true}`))
	}))
	defer srv.Close()

	d := &WebhookDispatcher{URL: srv.URL}
	res, err := d.Dispatch(context.Background(), Call{Name: "book_appointment", Args: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if string(res) != `{"booked":true}` {
		t.Fatalf("result = %s", res)
	}
}

func TestWebhookDispatchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	d := &WebhookDispatcher{URL: srv.URL}
	if _, err := d.Dispatch(context.Background(), Call{Name: "x"}); err == nil {
		t.Fatal("expected error for 502")
	}
}
