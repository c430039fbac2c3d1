package tagging

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/dvloznov/statement-importer/internal/domain"
)

// mockTagLister is a mock for testing tag lookups
type mockTagLister struct {
	tags []*domain.Tag
	err  error
}

func (m *mockTagLister) ListTags(ctx context.Context, userID string) ([]*domain.Tag, error) {
	return m.tags, m.err
}

func userTags() *mockTagLister {
	return &mockTagLister{tags: []*domain.Tag{
		{ID: "t-groceries", Name: "Groceries"},
		{ID: "t-salary", Name: "salary"},
		{ID: "t-big", Name: "big spend"},
	}}
}

func minor(v int64) *int64 { return &v }

const rulesYAML = `
rules:
  - tag: groceries
    contains: [tesco, " Sainsbury "]
    direction: out
  - tag: Salary
    pattern: '^acme\s+ltd'
    direction: in
    min_amount: "1,000.00"
  - tag: big spend
    contains: [""]
    pattern: '.'
    direction: out
    min_amount: "500"
  - tag: holidays
    contains: [airline]
`

func TestRuleTagger(t *testing.T) {
	rs, err := LoadRules(strings.NewReader(rulesYAML))
	if err != nil {
		t.Fatalf("LoadRules: %v", err)
	}
	rt, err := NewRuleTagger(rs, userTags())
	if err != nil {
		t.Fatalf("NewRuleTagger: %v", err)
	}

	tests := []struct {
		name string
		c    *domain.TransactionCandidate
		want []string
	}{
		{"groceries out", &domain.TransactionCandidate{Description: "TESCO STORES 123", PaidOut: minor(2550)}, []string{"t-groceries"}},
		{"groceries refund is in", &domain.TransactionCandidate{Description: "TESCO REFUND", PaidIn: minor(2550)}, nil},
		{"salary above minimum", &domain.TransactionCandidate{Description: "ACME  LTD PAYROLL", PaidIn: minor(250000)}, []string{"t-salary"}},
		{"salary below minimum", &domain.TransactionCandidate{Description: "ACME LTD EXPENSES", PaidIn: minor(4200)}, nil},
		{"big grocery shop", &domain.TransactionCandidate{Description: "Sainsbury's", PaidOut: minor(60000)}, []string{"t-groceries", "t-big"}},
		{"tag the user lacks", &domain.TransactionCandidate{Description: "AIRLINE TICKETS", PaidOut: minor(100)}, nil},
		{"no amount", &domain.TransactionCandidate{Description: "TESCO"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := rt.SuggestTags(context.Background(), "user-1", []*domain.TransactionCandidate{tt.c}); err != nil {
				t.Fatalf("SuggestTags: %v", err)
			}
			if strings.Join(tt.c.Tags, ",") != strings.Join(tt.want, ",") {
				t.Errorf("tags = %v, want %v", tt.c.Tags, tt.want)
			}
		})
	}
}

func TestRuleTagger_KeepsExistingTags(t *testing.T) {
	rs, err := LoadRules(strings.NewReader(rulesYAML))
	if err != nil {
		t.Fatal(err)
	}
	rt, err := NewRuleTagger(rs, userTags())
	if err != nil {
		t.Fatal(err)
	}
	c := &domain.TransactionCandidate{Description: "tesco", PaidOut: minor(1), Tags: []string{"t-groceries"}}
	if err := rt.SuggestTags(context.Background(), "user-1", []*domain.TransactionCandidate{c}); err != nil {
		t.Fatal(err)
	}
	if len(c.Tags) != 1 {
		t.Errorf("tags = %v, want no duplicate", c.Tags)
	}
}

func TestNewRuleTagger_InvalidRules(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing tag", "rules:\n  - contains: [x]\n"},
		{"no criteria", "rules:\n  - tag: x\n"},
		{"bad direction", "rules:\n  - tag: x\n    contains: [y]\n    direction: sideways\n"},
		{"bad pattern", "rules:\n  - tag: x\n    pattern: '('\n"},
		{"bad amount", "rules:\n  - tag: x\n    contains: [y]\n    min_amount: lots\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := LoadRules(strings.NewReader(tt.yaml))
			if err != nil {
				t.Fatalf("LoadRules: %v", err)
			}
			if _, err := NewRuleTagger(rs, userTags()); err == nil {
				t.Error("NewRuleTagger() error = nil, want error")
			}
		})
	}

	if _, err := LoadRules(strings.NewReader("rules:\n  - tag: x\n    colour: red\n")); err == nil {
		t.Error("LoadRules accepted an unknown field")
	}
	if rs, err := LoadRules(strings.NewReader("")); err != nil || len(rs.Rules) != 0 {
		t.Errorf("LoadRules(empty) = %+v, %v", rs, err)
	}
}

// fakeGenerator returns a canned model response.
type fakeGenerator struct {
	text   string
	err    error
	prompt string
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.prompt = contents[0].Parts[0].Text
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestGeminiTagger(t *testing.T) {
	gen := &fakeGenerator{text: "```json\n[{\"index\":0,\"tags\":[\"GROCERIES\",\"made up\"]},{\"index\":1,\"tags\":[\"salary\"]},{\"index\":7,\"tags\":[\"salary\"]}]\n```"}
	g := &GeminiTagger{models: gen, model: DefaultModelName, tags: userTags()}

	candidates := []*domain.TransactionCandidate{
		{Description: "TESCO", PaidOut: minor(1234)},
		{Description: "ACME LTD", PaidIn: minor(100000)},
	}
	if err := g.SuggestTags(context.Background(), "user-1", candidates); err != nil {
		t.Fatalf("SuggestTags: %v", err)
	}
	if got := strings.Join(candidates[0].Tags, ","); got != "t-groceries" {
		t.Errorf("candidate 0 tags = %s", got)
	}
	if got := strings.Join(candidates[1].Tags, ","); got != "t-salary" {
		t.Errorf("candidate 1 tags = %s", got)
	}
	if !strings.Contains(gen.prompt, "- groceries") || !strings.Contains(gen.prompt, `"amount":"12.34"`) {
		t.Errorf("prompt missing tag list or amounts:\n%s", gen.prompt)
	}
}

func TestGeminiTagger_Errors(t *testing.T) {
	ctx := context.Background()
	cands := []*domain.TransactionCandidate{{Description: "x"}}

	g := &GeminiTagger{models: &fakeGenerator{err: errors.New("quota")}, tags: userTags()}
	if err := g.SuggestTags(ctx, "u", cands); err == nil {
		t.Error("generator error not returned")
	}

	g = &GeminiTagger{models: &fakeGenerator{text: "sorry, no"}, tags: userTags()}
	if err := g.SuggestTags(ctx, "u", cands); err == nil {
		t.Error("non-JSON response accepted")
	}

	g = &GeminiTagger{models: &fakeGenerator{err: errors.New("must not be called")}, tags: &mockTagLister{}}
	if err := g.SuggestTags(ctx, "u", cands); err != nil {
		t.Errorf("user without tags: %v", err)
	}
}

func TestChain(t *testing.T) {
	failing := &GeminiTagger{models: &fakeGenerator{err: errors.New("quota")}, tags: userTags()}
	rs, err := LoadRules(strings.NewReader(rulesYAML))
	if err != nil {
		t.Fatal(err)
	}
	rules, err := NewRuleTagger(rs, userTags())
	if err != nil {
		t.Fatal(err)
	}

	c := &domain.TransactionCandidate{Description: "TESCO", PaidOut: minor(100)}
	err = Chain{failing, rules}.SuggestTags(context.Background(), "user-1", []*domain.TransactionCandidate{c})
	if err == nil {
		t.Error("Chain swallowed the error")
	}
	if len(c.Tags) != 1 {
		t.Errorf("later suggester did not run: %v", c.Tags)
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`[{"index":0}]`, `[{"index":0}]`},
		{"```json\n[1]\n```", "[1]"},
		{"Here you go: [1, 2] hope that helps", "[1, 2]"},
	}
	for _, tt := range tests {
		if got := cleanModelJSON(tt.in); got != tt.want {
			t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
