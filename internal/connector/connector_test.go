package connector

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/shineum/mailbridge/internal/message"
	"github.com/shineum/mailbridge/internal/parser"
)

const testMail = "From: sender@example.com\r\n" +
	"To: receiver@example.com\r\n" +
	"Subject: Dispatch test\r\n" +
	"Content-Type: text/plain\r\n" +
	"\r\n" +
	"test body\r\n"

func testParser(t *testing.T) parser.Parser {
	t.Helper()
	return rawParser(t, testMail)
}

func rawParser(t *testing.T, raw string) parser.Parser {
	t.Helper()
	msg, err := message.New(nil, nil, []byte(raw))
	if err != nil {
		t.Fatalf("message.New() error = %v", err)
	}
	return parser.NewPlain(msg, nil)
}

// stubConnector lets tests control the outcome of each phase.
type stubConnector struct {
	Base
	validateErr error
	sendErr     error
	sendCalls   int
}

func (c *stubConnector) Validate(_ parser.Parser) error { return c.validateErr }

func (c *stubConnector) Send(_ parser.Parser) error {
	c.sendCalls++
	return c.sendErr
}

func TestBaseDefaults(t *testing.T) {
	b := NewBase("base-test", nil)

	if got, want := b.Name(), "base-test"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
	if b.Config() == nil {
		t.Error("Config() = nil, want empty map for nil input")
	}
	if err := b.Validate(testParser(t)); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
	if err := b.Send(testParser(t)); !errors.Is(err, ErrNotImplemented) {
		t.Errorf("Send() error = %v, want ErrNotImplemented", err)
	}
}

func TestBaseSetLoggerNil(t *testing.T) {
	b := NewBase("base-test", nil)
	b.SetLogger(nil)
	if b.Logger() == nil {
		t.Error("Logger() = nil after SetLogger(nil), want default")
	}
}

func TestRunValidateFailure(t *testing.T) {
	validateErr := errors.New("missing config value")
	c := &stubConnector{Base: NewBase("stub", nil), validateErr: validateErr}

	err := Run(c, testParser(t), slog.Default())
	if err == nil {
		t.Fatal("Run() error = nil, want validation error")
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Run() error = %T, want *ValidationError", err)
	}
	if vErr.Connector != "stub" {
		t.Errorf("ValidationError.Connector = %q, want %q", vErr.Connector, "stub")
	}
	if !errors.Is(err, validateErr) {
		t.Error("Run() error does not wrap the validate error")
	}
	if c.sendCalls != 0 {
		t.Errorf("Send called %d times after validation failure, want 0", c.sendCalls)
	}
}

func TestRunSendFailure(t *testing.T) {
	sendErr := errors.New("destination unreachable")
	c := &stubConnector{Base: NewBase("stub", nil), sendErr: sendErr}

	err := Run(c, testParser(t), slog.Default())
	if !errors.Is(err, sendErr) {
		t.Fatalf("Run() error = %v, want the send error", err)
	}

	var vErr *ValidationError
	if errors.As(err, &vErr) {
		t.Error("send failure was wrapped in ValidationError")
	}
}

func TestRunSuccess(t *testing.T) {
	c := &stubConnector{Base: NewBase("stub", nil)}

	if err := Run(c, testParser(t), nil); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if c.sendCalls != 1 {
		t.Errorf("Send called %d times, want 1", c.sendCalls)
	}
}

func TestRunOnBase(t *testing.T) {
	b := NewBase("bare", nil)

	// The base passes validation and then fails in the send phase.
	err := Run(&b, testParser(t), slog.Default())
	if !errors.Is(err, ErrNotImplemented) {
		t.Fatalf("Run() error = %v, want ErrNotImplemented", err)
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		t.Error("base send failure was wrapped in ValidationError")
	}
}

func TestRegistryModules(t *testing.T) {
	want := []string{"discord", "google_chat", "microsoft_teams", "ses", "slack", "smtp", "void"}
	got := Modules()
	if len(got) != len(want) {
		t.Fatalf("Modules() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Modules()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegisterDuplicate(t *testing.T) {
	if err := Register("void", NewVoid); err == nil {
		t.Error("Register(\"void\") error = nil, want duplicate module error")
	}
}

func TestVoidConnector(t *testing.T) {
	factory, ok := Get("void")
	if !ok {
		t.Fatal("Get(\"void\") not found")
	}
	c, err := factory("discard", nil)
	if err != nil {
		t.Fatalf("factory() error = %v", err)
	}

	p := testParser(t)
	if err := c.Validate(p); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
	if err := c.Send(p); err != nil {
		t.Errorf("Send() error = %v, want nil", err)
	}
}
