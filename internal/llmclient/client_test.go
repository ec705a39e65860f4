package llmclient

import (
	"context"
	"errors"
	"testing"

	"chatrelay/internal/assembler"
	"chatrelay/internal/domain"
	"chatrelay/internal/persona"
)

type fakeModel struct {
	responses []string
	errs      []error
	calls     int
}

func (f *fakeModel) Name() string { return "fake" }

func (f *fakeModel) Complete(ctx context.Context, secret, prompt string) (string, int, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var resp string
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	return resp, 10, err
}

type fakeCredentials struct {
	outcomes []domain.ErrorKind
}

func (f *fakeCredentials) Acquire() (*domain.Credential, error) {
	return &domain.Credential{OpaqueSecret: "secret-key"}, nil
}

func (f *fakeCredentials) ReportOutcome(secret string, kind domain.ErrorKind) {
	f.outcomes = append(f.outcomes, kind)
}

func TestGenerateParsesReplyShape(t *testing.T) {
	model := &fakeModel{responses: []string{`{"messages":["hi there"],"thinking":"t"}`}}
	c := New(model, &fakeCredentials{}, persona.Default(), nil)

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Kind != domain.DecisionReply || len(decision.Messages) != 1 || decision.Messages[0] != "hi there" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestGenerateStripsCodeFences(t *testing.T) {
	model := &fakeModel{responses: []string{"```json\n{\"reason\":\"nothing to add\",\"thinking\":\"t\"}\n```"}}
	c := New(model, &fakeCredentials{}, persona.Default(), nil)

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Kind != domain.DecisionNoReply || decision.Reason != "nothing to add" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestGenerateReformatsOnParseFailure(t *testing.T) {
	model := &fakeModel{responses: []string{"not json at all", `{"messages":["fixed"],"thinking":"t"}`}}
	c := New(model, &fakeCredentials{}, persona.Default(), nil)

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Kind != domain.DecisionReply || decision.Messages[0] != "fixed" {
		t.Fatalf("expected reformatted reply, got %+v", decision)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 model calls (original + reformat), got %d", model.calls)
	}
}

func TestGenerateFallsBackToRawTextAfterFailedReformat(t *testing.T) {
	model := &fakeModel{responses: []string{"still not json", "still not json either"}}
	c := New(model, &fakeCredentials{}, persona.Default(), nil)

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Thinking != "format fallback" {
		t.Fatalf("expected format fallback thinking, got %+v", decision)
	}
	if len(decision.Messages) != 1 || decision.Messages[0] != "still not json" {
		t.Fatalf("expected raw text as single message, got %+v", decision.Messages)
	}
}

func TestGenerateReportsOutcomeAndRotatesOnFailure(t *testing.T) {
	model := &fakeModel{
		errs:      []error{errors.New("HTTP 429: rate limited"), nil},
		responses: []string{"", `{"messages":["ok"],"thinking":"t"}`},
	}
	creds := &fakeCredentials{}
	c := New(model, creds, persona.Default(), nil)

	decision, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Kind != domain.DecisionReply {
		t.Fatalf("expected eventual success, got %+v", decision)
	}
	if len(creds.outcomes) != 2 || creds.outcomes[0] == domain.KindUnknown {
		t.Fatalf("expected first outcome to report a failure kind, got %+v", creds.outcomes)
	}
}

func TestGenerateExhaustsRetriesOnPersistentFailure(t *testing.T) {
	model := &fakeModel{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	c := New(model, &fakeCredentials{}, persona.Default(), nil)

	_, err := c.Generate(context.Background(), "hello", assembler.StructuredContext{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if model.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", model.calls)
	}
}
