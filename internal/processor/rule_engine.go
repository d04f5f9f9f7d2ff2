package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"regexp"
	"slices"
	"sync"
)

// RuleEngine evaluates configured transaction screens. Conditions are
// parsed once and cached per rule ID.
type RuleEngine struct {
	ruleRepo repository.RuleRepository
	logger   *slog.Logger
	mu       sync.RWMutex
	cache    map[string]*compiledRule
}

type Condition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

type RuleResult struct {
	RuleID      string
	RuleName    string
	Triggered   bool
	Description string
}

type compiledRule struct {
	rule      *domain.Rule
	condition Condition
	pattern   *regexp.Regexp
}

func NewRuleEngine(ruleRepo repository.RuleRepository, logger *slog.Logger) *RuleEngine {
	if logger == nil {
		logger = slog.Default()
	}

	return &RuleEngine{
		ruleRepo: ruleRepo,
		logger:   logger,
		cache:    make(map[string]*compiledRule),
	}
}

// EvaluateRules returns the triggered active rules for tx, highest
// priority first.
func (e *RuleEngine) EvaluateRules(ctx context.Context, tx *domain.Transaction) ([]RuleResult, error) {
	rules, err := e.ruleRepo.GetActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active rules: %w", err)
	}

	var results []RuleResult
	for _, rule := range rules {
		compiled, err := e.compile(rule)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to evaluate rule",
				slog.String("rule_id", rule.ID),
				slog.String("error", err.Error()))
			continue
		}

		triggered, err := compiled.check(tx)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if triggered {
			results = append(results, RuleResult{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				Triggered:   true,
				Description: rule.Description,
			})
		}
	}

	slices.SortStableFunc(results, func(a, b RuleResult) int {
		return e.priority(b.RuleID) - e.priority(a.RuleID)
	})

	return results, nil
}

// Validate parses every active rule and reports the first bad condition.
func (e *RuleEngine) Validate(ctx context.Context) error {
	rules, err := e.ruleRepo.GetActiveRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to get active rules: %w", err)
	}
	for _, rule := range rules {
		if _, err := e.compile(rule); err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// Patterns turns each active rule into a detector reporting the share of
// labeled transactions it triggers on, per class.
func (e *RuleEngine) Patterns(ctx context.Context) ([]Pattern, error) {
	rules, err := e.ruleRepo.GetActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active rules: %w", err)
	}

	patterns := make([]Pattern, 0, len(rules))
	for _, rule := range rules {
		rule := rule
		compiled, err := e.compile(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		patterns = append(patterns, Pattern{
			Name:        "screen:" + rule.ID,
			Description: rule.Description,
			Detect: func(in *Input) (*domain.Finding, error) {
				var checkErr error
				legit, mule := in.txnRate(func(tx *domain.Transaction) bool {
					ok, err := compiled.check(tx)
					if err != nil && checkErr == nil {
						checkErr = err
					}
					return ok
				})
				if checkErr != nil {
					return nil, checkErr
				}
				title := rule.Name
				if title == "" {
					title = rule.ID
				}
				f := domain.NewFinding("screen:"+rule.ID, title).
					Compare("Transactions triggering screen", legit*100, mule*100, "%").
					Set(rule.ID+"_legit_rate", legit*100).
					Set(rule.ID+"_mule_rate", mule*100)
				if rule.Description != "" {
					f.Note(rule.Description)
				}
				return f, nil
			},
		})
	}
	return patterns, nil
}

func (e *RuleEngine) compile(rule *domain.Rule) (*compiledRule, error) {
	e.mu.RLock()
	cached, ok := e.cache[rule.ID]
	e.mu.RUnlock()
	if ok && cached.rule.Version == rule.Version {
		return cached, nil
	}

	condition, err := e.parseCondition(rule.Condition)
	if err != nil {
		return nil, fmt.Errorf("failed to parse condition: %w", err)
	}
	compiled := &compiledRule{rule: rule, condition: condition}
	if condition.Operator == "contains" {
		expr, ok := condition.Value.(string)
		if !ok {
			return nil, fmt.Errorf("invalid value for 'contains' operator: %v", condition.Value)
		}
		compiled.pattern, err = regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", expr, err)
		}
	}
	if _, err := compiled.check(&domain.Transaction{}); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[rule.ID] = compiled
	e.mu.Unlock()
	return compiled, nil
}

func (e *RuleEngine) parseCondition(conditionStr string) (Condition, error) {
	var condition Condition
	if err := json.Unmarshal([]byte(conditionStr), &condition); err != nil {
		return Condition{}, fmt.Errorf("invalid condition JSON: %w", err)
	}
	return condition, nil
}

func (c *compiledRule) check(tx *domain.Transaction) (bool, error) {
	switch c.condition.Field {
	case "amount":
		return c.checkNumeric(tx.Amount)
	case "abs_amount":
		return c.checkNumeric(tx.AbsAmount())
	case "hour":
		if !tx.HasTimestamp() {
			return false, c.validateNumeric()
		}
		return c.checkNumeric(float64(tx.Timestamp.Hour()))
	case "day":
		if !tx.HasTimestamp() {
			return false, c.validateNumeric()
		}
		return c.checkNumeric(float64(tx.Timestamp.Day()))
	case "txn_type", "type":
		return c.checkString(string(tx.Type))
	case "channel":
		return c.checkString(tx.Channel)
	case "counterparty_id":
		return c.checkString(tx.CounterpartyID)
	case "account_id":
		return c.checkString(tx.AccountID)
	default:
		return false, fmt.Errorf("unknown field: %s", c.condition.Field)
	}
}

func (c *compiledRule) validateNumeric() error {
	_, err := c.checkNumeric(0)
	return err
}

func (c *compiledRule) checkNumeric(value float64) (bool, error) {
	targetValue, ok := c.condition.Value.(float64)
	if !ok {
		return false, fmt.Errorf("invalid value type for numeric field: %v", c.condition.Value)
	}

	switch c.condition.Operator {
	case ">":
		return value > targetValue, nil
	case ">=":
		return value >= targetValue, nil
	case "<":
		return value < targetValue, nil
	case "<=":
		return value <= targetValue, nil
	case "==":
		return value == targetValue, nil
	case "!=":
		return value != targetValue, nil
	default:
		return false, fmt.Errorf("unknown operator: %s", c.condition.Operator)
	}
}

func (c *compiledRule) checkString(value string) (bool, error) {
	switch c.condition.Operator {
	case "==", "!=":
		targetValue, ok := c.condition.Value.(string)
		if !ok {
			return false, fmt.Errorf("invalid value type for string field: %v", c.condition.Value)
		}
		return (value == targetValue) == (c.condition.Operator == "=="), nil
	case "contains":
		return c.pattern.MatchString(value), nil
	case "in":
		arr, ok := c.condition.Value.([]interface{})
		if !ok {
			return false, fmt.Errorf("invalid value for 'in' operator")
		}
		for _, v := range arr {
			if s, ok := v.(string); ok && s == value {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown operator: %s", c.condition.Operator)
	}
}

func (e *RuleEngine) priority(ruleID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.cache[ruleID]; ok {
		return c.rule.Priority
	}
	return 0
}
