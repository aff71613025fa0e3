package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arcbond/bondengine/internal/account"
	"github.com/arcbond/bondengine/internal/config"
	"github.com/arcbond/bondengine/internal/fault"
	"github.com/arcbond/bondengine/internal/fixed"
	"github.com/arcbond/bondengine/internal/journal"
)

// Scenario is a scripted run of one series against a funded asset.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Series is the issuance, in the same form as a series file.
	Series config.Series `yaml:"series"`

	// Funding credits backing asset to accounts before the first step.
	// Values are decimal amounts.
	Funding map[string]string `yaml:"funding,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step optionally moves the clock, then optionally runs one operation.
type Step struct {
	// Advance is a Go duration added to the clock before Op runs.
	Advance string `yaml:"advance,omitempty"`

	// Op is an operation kind, e.g. "deposit" or "set_emergency_mode".
	Op string `yaml:"op,omitempty"`

	Caller string `yaml:"caller,omitempty"`
	Holder string `yaml:"holder,omitempty"`
	Amount string `yaml:"amount,omitempty"`
	Flag   bool   `yaml:"flag,omitempty"`

	// Expect checks the outcome. Without it the operation must succeed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error is the expected error code, e.g. "PAUSED". Empty means success.
	Error string `yaml:"error,omitempty"`

	// Result is a subset match against the operation's outputs.
	Result map[string]string `yaml:"result,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of series, treasury, holder, snapshot or journal_count.
	Type string `yaml:"type"`

	// Holder selects the account (holder).
	Holder string `yaml:"holder,omitempty"`

	// Record selects the 1-based snapshot (snapshot).
	Record uint64 `yaml:"record,omitempty"`

	// Kind filters entries (journal_count).
	Kind string `yaml:"kind,omitempty"`

	// Count is the expected number of entries (journal_count).
	Count *int `yaml:"count,omitempty"`

	// Expect maps field names to their expected rendering.
	Expect map[string]string `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertSeries       = "series"
	AssertTreasury     = "treasury"
	AssertHolder       = "holder"
	AssertSnapshot     = "snapshot"
	AssertJournalCount = "journal_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if err := s.Series.Validate(); err != nil {
		return fmt.Errorf("series: %w", err)
	}
	params, err := s.Series.Params()
	if err != nil {
		return fmt.Errorf("series: %w", err)
	}
	for id, amt := range s.Funding {
		if _, err := fixed.Parse(amt); err != nil {
			return fmt.Errorf("funding[%s]: %w", id, err)
		}
		if err := checkFundable(id, params.Custody); err != nil {
			return err
		}
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	if s.Op == "" && s.Advance == "" {
		return fmt.Errorf("steps[%d]: op or advance is required", index)
	}
	if s.Advance != "" {
		d, err := time.ParseDuration(s.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance must not be negative", index)
		}
	}
	if s.Op == "" {
		if s.Expect != nil {
			return fmt.Errorf("steps[%d]: expect needs an op", index)
		}
		return nil
	}
	if _, ok := journal.ParseKind(s.Op); !ok {
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	if s.Caller == "" {
		return fmt.Errorf("steps[%d]: caller is required", index)
	}
	if s.Amount != "" {
		if _, err := fixed.Parse(s.Amount); err != nil {
			return fmt.Errorf("steps[%d]: amount: %w", index, err)
		}
	}
	if s.Expect != nil && s.Expect.Error != "" {
		if _, ok := fault.ParseCode(s.Expect.Error); !ok {
			return fmt.Errorf("steps[%d].expect: unknown error code %q", index, s.Expect.Error)
		}
		if s.Expect.Result != nil {
			return fmt.Errorf("steps[%d].expect: error and result are exclusive", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSeries, AssertTreasury:
	case AssertHolder:
		if a.Holder == "" {
			return fmt.Errorf("assertions[%d]: holder is required for holder", index)
		}
	case AssertSnapshot:
		if a.Record == 0 {
			return fmt.Errorf("assertions[%d]: record is required for snapshot", index)
		}
	case AssertJournalCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for journal_count", index)
		}
		if a.Kind != "" {
			if _, ok := journal.ParseKind(a.Kind); !ok {
				return fmt.Errorf("assertions[%d]: unknown kind %q", index, a.Kind)
			}
		}
		return nil
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if len(a.Expect) == 0 {
		return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
	}
	return nil
}

// checkFundable rejects funding the custody account. Custody only moves
// through journaled operations, otherwise replay would start it from a
// different balance.
func checkFundable(raw string, custody account.ID) error {
	id, err := account.Parse(raw)
	if err != nil {
		return fmt.Errorf("funding: %w", err)
	}
	if id == custody {
		return fmt.Errorf("funding[%s]: custody account %s can only be funded through owner_deposit", raw, custody)
	}
	return nil
}
