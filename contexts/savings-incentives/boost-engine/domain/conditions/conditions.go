// Package conditions implements the boost condition DSL: small predicate
// strings of the form `<name> #{<param1>::<param2>...}` evaluated against a
// behavioral event's context. Strings are parsed once into a typed Condition
// when a boost is loaded or created; evaluation on the hot path is a map
// dispatch, never a string split.
package conditions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type AmountUnit string

const (
	UnitHundredthCent AmountUnit = "HUNDREDTH_CENT"
	UnitWholeCent     AmountUnit = "WHOLE_CENT"
	UnitWholeCurrency AmountUnit = "WHOLE_CURRENCY"
)

// unitFactor converts a unit to the hundredth-of-a-cent baseline used for
// every amount comparison.
var unitFactor = map[AmountUnit]int64{
	UnitHundredthCent: 1,
	UnitWholeCent:     100,
	UnitWholeCurrency: 10_000,
}

var (
	ErrMalformedCondition = errors.New("condition string is malformed")
	ErrMalformedAmount    = errors.New("amount string is malformed")
)

// Amount is a monetary value in the composite AMOUNT::UNIT::CURRENCY form
// used across event contexts and condition parameters.
type Amount struct {
	Value    int64
	Unit     AmountUnit
	Currency string
}

func ParseAmount(raw string) (Amount, error) {
	parts := strings.Split(strings.TrimSpace(raw), "::")
	if len(parts) != 3 {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	value, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	unit := AmountUnit(parts[1])
	if _, ok := unitFactor[unit]; !ok {
		return Amount{}, fmt.Errorf("%w: unknown unit in %q", ErrMalformedAmount, raw)
	}
	return Amount{Value: value, Unit: unit, Currency: parts[2]}, nil
}

// Baseline returns the value normalized to hundredths of a cent.
func (a Amount) Baseline() int64 {
	return a.Value * unitFactor[a.Unit]
}

func (a Amount) String() string {
	return fmt.Sprintf("%d::%s::%s", a.Value, a.Unit, a.Currency)
}

// Event is the behavioral trigger a condition is evaluated against. Exactly
// one of AccountID/UserID identifies the actor; Context keys vary per
// predicate (savedAmount, newBalance, withdrawalAmount, timeInMillis,
// firstSave, tapCount, percentDestroyed, saveTags, transactionId, ...).
type Event struct {
	AccountID string
	UserID    string
	Context   map[string]any
}

func (e Event) amount(key string) (Amount, bool) {
	raw, ok := e.Context[key]
	if !ok {
		return Amount{}, false
	}
	text, ok := raw.(string)
	if !ok {
		return Amount{}, false
	}
	amount, err := ParseAmount(text)
	if err != nil {
		return Amount{}, false
	}
	return amount, true
}

func (e Event) integer(key string) (int64, bool) {
	switch value := e.Context[key].(type) {
	case int:
		return int64(value), true
	case int64:
		return value, true
	case float64:
		return int64(value), true
	case string:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func (e Event) boolean(key string) bool {
	switch value := e.Context[key].(type) {
	case bool:
		return value
	case string:
		return strings.EqualFold(value, "true")
	default:
		return false
	}
}

func (e Event) tags(key string) []string {
	switch value := e.Context[key].(type) {
	case []string:
		return value
	case []any:
		tags := make([]string, 0, len(value))
		for _, item := range value {
			if text, ok := item.(string); ok {
				tags = append(tags, text)
			}
		}
		return tags
	case string:
		return []string{value}
	default:
		return nil
	}
}

type Kind string

const (
	KindSaveEventGreaterThan     Kind = "save_event_greater_than"
	KindSaveCompletedBy          Kind = "save_completed_by"
	KindFirstSaveBy              Kind = "first_save_by"
	KindBalanceBelow             Kind = "balance_below"
	KindWithdrawalBefore         Kind = "withdrawal_before"
	KindNumberTapsGreaterThan    Kind = "number_taps_greater_than"
	KindNumberTapsInFirstN       Kind = "number_taps_in_first_N"
	KindPercentDestroyedAbove    Kind = "percent_destroyed_above"
	KindPercentDestroyedInFirstN Kind = "percent_destroyed_in_first_N"
	KindSaveTaggedWith           Kind = "save_tagged_with"
)

// Condition is a single parsed predicate. Raw keeps the original string for
// persistence and audit payloads.
type Condition struct {
	Kind   Kind
	Raw    string
	Params []string

	// amount is pre-parsed for the monetary predicates so evaluation does
	// no string work.
	amount *Amount
}

// Parse splits a condition string into its predicate name and parameter
// list. Both `name #{p1::p2}` and the bare `name p1::p2` form are accepted.
// Parsing validates parameter shape for monetary predicates; it does NOT
// validate that the predicate name is known, because unknown predicates must
// evaluate to false rather than fail a boost at load time.
func Parse(raw string) (Condition, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Condition{}, fmt.Errorf("%w: empty", ErrMalformedCondition)
	}
	name, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)
	rest = strings.TrimPrefix(rest, "#{")
	rest = strings.TrimSuffix(rest, "}")

	condition := Condition{
		Kind: Kind(name),
		Raw:  trimmed,
	}
	if rest != "" {
		condition.Params = strings.Split(rest, "::")
	}

	switch condition.Kind {
	case KindSaveEventGreaterThan, KindBalanceBelow:
		amount, err := ParseAmount(rest)
		if err != nil {
			return Condition{}, err
		}
		condition.amount = &amount
	case KindWithdrawalBefore, KindNumberTapsGreaterThan, KindPercentDestroyedAbove:
		if _, err := condition.intParam(0); err != nil {
			return Condition{}, err
		}
	case KindNumberTapsInFirstN, KindPercentDestroyedInFirstN:
		if len(condition.Params) < 2 {
			return Condition{}, fmt.Errorf("%w: %q needs threshold and window", ErrMalformedCondition, trimmed)
		}
		for i := 0; i < 2; i++ {
			if _, err := condition.intParam(i); err != nil {
				return Condition{}, err
			}
		}
	case KindSaveCompletedBy, KindFirstSaveBy, KindSaveTaggedWith:
		if len(condition.Params) == 0 || strings.TrimSpace(condition.Params[0]) == "" {
			return Condition{}, fmt.Errorf("%w: %q needs a parameter", ErrMalformedCondition, trimmed)
		}
	}
	return condition, nil
}

func (c Condition) intParam(index int) (int64, error) {
	if index >= len(c.Params) {
		return 0, fmt.Errorf("%w: %q missing parameter %d", ErrMalformedCondition, c.Raw, index)
	}
	value, err := strconv.ParseInt(strings.TrimSpace(c.Params[index]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q parameter %d is not an integer", ErrMalformedCondition, c.Raw, index)
	}
	return value, nil
}

type evaluator func(Condition, Event) bool

// evaluators is the dispatch table. A predicate absent from this table is
// never satisfied: fail closed, never silently qualify an account.
var evaluators = map[Kind]evaluator{
	KindSaveEventGreaterThan:     evalSaveEventGreaterThan,
	KindSaveCompletedBy:          evalSaveCompletedBy,
	KindFirstSaveBy:              evalFirstSaveBy,
	KindBalanceBelow:             evalBalanceBelow,
	KindWithdrawalBefore:         evalWithdrawalBefore,
	KindNumberTapsGreaterThan:    evalNumberTapsGreaterThan,
	KindNumberTapsInFirstN:       evalNumberTapsInFirstN,
	KindPercentDestroyedAbove:    evalPercentDestroyedAbove,
	KindPercentDestroyedInFirstN: evalPercentDestroyedInFirstN,
	KindSaveTaggedWith:           evalSaveTaggedWith,
}

// Met evaluates the condition against an event.
func (c Condition) Met(ev Event) bool {
	evaluate, ok := evaluators[c.Kind]
	if !ok {
		return false
	}
	return evaluate(c, ev)
}

// AllMet is the status-level contract: every condition in the list must
// hold. Short-circuits on the first miss.
func AllMet(list []Condition, ev Event) bool {
	if len(list) == 0 {
		return false
	}
	for _, condition := range list {
		if !condition.Met(ev) {
			return false
		}
	}
	return true
}

func evalSaveEventGreaterThan(c Condition, ev Event) bool {
	saved, ok := ev.amount("savedAmount")
	if !ok || c.amount == nil {
		return false
	}
	if saved.Currency != c.amount.Currency {
		return false
	}
	return saved.Baseline() >= c.amount.Baseline()
}

func evalSaveCompletedBy(c Condition, ev Event) bool {
	return ev.AccountID != "" && ev.AccountID == strings.TrimSpace(c.Params[0])
}

func evalFirstSaveBy(c Condition, ev Event) bool {
	return evalSaveCompletedBy(c, ev) && ev.boolean("firstSave")
}

func evalBalanceBelow(c Condition, ev Event) bool {
	balance, ok := ev.amount("newBalance")
	if !ok || c.amount == nil {
		return false
	}
	if balance.Currency != c.amount.Currency {
		return false
	}
	return balance.Baseline() < c.amount.Baseline()
}

func evalWithdrawalBefore(c Condition, ev Event) bool {
	withdrawal, ok := ev.amount("withdrawalAmount")
	if !ok || withdrawal.Value <= 0 {
		return false
	}
	eventMillis, ok := ev.integer("timeInMillis")
	if !ok {
		return false
	}
	cutoff, err := c.intParam(0)
	if err != nil {
		return false
	}
	return eventMillis < cutoff
}

func evalNumberTapsGreaterThan(c Condition, ev Event) bool {
	taps, ok := ev.integer("tapCount")
	if !ok {
		return false
	}
	threshold, err := c.intParam(0)
	if err != nil {
		return false
	}
	return taps >= threshold
}

func evalNumberTapsInFirstN(c Condition, ev Event) bool {
	if !evalNumberTapsGreaterThan(c, ev) {
		return false
	}
	elapsed, ok := ev.integer("timeTakenMillis")
	if !ok {
		return false
	}
	window, err := c.intParam(1)
	if err != nil {
		return false
	}
	return elapsed <= window
}

func evalPercentDestroyedAbove(c Condition, ev Event) bool {
	percent, ok := ev.integer("percentDestroyed")
	if !ok {
		return false
	}
	threshold, err := c.intParam(0)
	if err != nil {
		return false
	}
	return percent >= threshold
}

func evalPercentDestroyedInFirstN(c Condition, ev Event) bool {
	if !evalPercentDestroyedAbove(c, ev) {
		return false
	}
	elapsed, ok := ev.integer("timeTakenMillis")
	if !ok {
		return false
	}
	window, err := c.intParam(1)
	if err != nil {
		return false
	}
	return elapsed <= window
}

func evalSaveTaggedWith(c Condition, ev Event) bool {
	wanted := strings.TrimSpace(c.Params[0])
	for _, tag := range ev.tags("saveTags") {
		if strings.EqualFold(strings.TrimSpace(tag), wanted) {
			return true
		}
	}
	return false
}
