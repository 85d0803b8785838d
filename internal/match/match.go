// Package match pairs a completed activity with the planned workout it
// fulfils.
package match

import (
	"context"
	"fmt"
	"strings"

	"traincal/internal/model"
	"traincal/internal/store"
)

// Rule reports whether an activity of activityType satisfies a planned
// workout of workoutType.
type Rule interface {
	Name() string
	Matches(workoutType, activityType string) bool
}

type exactRule struct{}

func (exactRule) Name() string { return "exact" }

func (exactRule) Matches(workoutType, activityType string) bool {
	return workoutType == activityType
}

type sameTypeRule struct{}

func (sameTypeRule) Name() string { return "same-type" }

func (sameTypeRule) Matches(workoutType, activityType string) bool {
	return strings.EqualFold(strings.TrimSpace(workoutType), strings.TrimSpace(activityType))
}

// PrefixRule matches planned workouts whose type starts with Prefix against
// any activity type in ActivityTypes.
type PrefixRule struct {
	Label         string
	Prefix        string
	ActivityTypes []string
}

func (r PrefixRule) Name() string { return r.Label }

func (r PrefixRule) Matches(workoutType, activityType string) bool {
	if r.Prefix == "" || !strings.HasPrefix(workoutType, r.Prefix) {
		return false
	}
	for _, t := range r.ActivityTypes {
		if t == activityType {
			return true
		}
	}
	return false
}

// Options configures DefaultRules.
type Options struct {
	BootcampPrefix        string
	BootcampActivityTypes []string
}

// DefaultRules returns exact, same-type and bootcamp in that order.
func DefaultRules(opts Options) []Rule {
	rules := []Rule{exactRule{}, sameTypeRule{}}
	if opts.BootcampPrefix != "" && len(opts.BootcampActivityTypes) > 0 {
		rules = append(rules, PrefixRule{
			Label:         "bootcamp",
			Prefix:        opts.BootcampPrefix,
			ActivityTypes: append([]string(nil), opts.BootcampActivityTypes...),
		})
	}
	return rules
}

// Matcher finds the planned counterpart of an activity.
type Matcher struct {
	store store.Store
	rules []Rule
}

func New(s store.Store, rules []Rule) *Matcher {
	return &Matcher{store: s, rules: rules}
}

// Result is the outcome of Find. PlannedID is nil when nothing matched.
type Result struct {
	PlannedID *string
	Rule      string
}

// Find returns the planned workout the activity should link to without
// writing anything. Candidates are the planned rows on the activity's date in
// id order; the first one accepted by any rule wins.
func (m *Matcher) Find(ctx context.Context, a model.CompletedActivity) (Result, error) {
	candidates, err := m.store.PlannedOn(ctx, a.Date)
	if err != nil {
		return Result{}, fmt.Errorf("match %s: %w", a.ID, err)
	}
	for _, p := range candidates {
		for _, rule := range m.rules {
			if rule.Matches(p.WorkoutType, a.ActivityType) {
				id := p.ID
				return Result{PlannedID: &id, Rule: rule.Name()}, nil
			}
		}
	}
	return Result{}, nil
}

// Match runs Find and persists the link (or clears it) on the activity.
func (m *Matcher) Match(ctx context.Context, a model.CompletedActivity) (*string, error) {
	res, err := m.Find(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := m.store.LinkActivity(ctx, a.ID, res.PlannedID); err != nil {
		return nil, fmt.Errorf("link %s: %w", a.ID, err)
	}
	return res.PlannedID, nil
}
