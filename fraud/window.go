package fraud

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OverrideLayout is the timestamp layout of start_dt and end_dt.
const OverrideLayout = "2006-01-02 15:04:05"

var (
	ErrOverrideInactive = errors.New("window override is not active")
	ErrOverrideInvalid  = errors.New("window override is invalid")
)

// Window is the half-open period [Start, End) scanned by one fraud run.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

func (w Window) String() string {
	return w.Start.Format(OverrideLayout) + " - " + w.End.Format(OverrideLayout)
}

// DefaultWindow covers the whole latest transaction day.
func DefaultWindow(latestDay time.Time) Window {
	return Window{Start: latestDay, End: latestDay.Add(24 * time.Hour)}
}

// Flag accepts "1", 1, true and "true" as set. The override file has been
// written with each of them.
type Flag bool

func (f *Flag) UnmarshalYAML(value *yaml.Node) error {
	if value == nil || value.Kind != yaml.ScalarNode {
		return fmt.Errorf("is_active: expected a scalar")
	}
	switch strings.ToLower(strings.TrimSpace(value.Value)) {
	case "1", "true", "yes":
		*f = true
	default:
		*f = false
	}
	return nil
}

// Override is the externally supplied window. The file is JSON in practice,
// which the YAML decoder reads as flow style.
type Override struct {
	Active Flag   `yaml:"is_active"`
	Start  string `yaml:"start_dt"`
	End    string `yaml:"end_dt"`
}

// LoadOverride reads the override file. A missing file returns nil.
func LoadOverride(path string) (*Override, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var o Override
	if err := yaml.Unmarshal(b, &o); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOverrideInvalid, err)
	}
	return &o, nil
}

// Window validates the override against the latest transaction day. The end
// is clamped to one day past latestDay.
func (o *Override) Window(latestDay time.Time) (Window, error) {
	if o == nil || !bool(o.Active) {
		return Window{}, ErrOverrideInactive
	}
	start, err := time.ParseInLocation(OverrideLayout, strings.TrimSpace(o.Start), time.UTC)
	if err != nil {
		return Window{}, fmt.Errorf("%w: start_dt: %v", ErrOverrideInvalid, err)
	}
	end, err := time.ParseInLocation(OverrideLayout, strings.TrimSpace(o.End), time.UTC)
	if err != nil {
		return Window{}, fmt.Errorf("%w: end_dt: %v", ErrOverrideInvalid, err)
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("%w: start_dt must be before end_dt", ErrOverrideInvalid)
	}
	if start.After(latestDay) {
		return Window{}, fmt.Errorf("%w: start_dt is after the latest transaction day", ErrOverrideInvalid)
	}
	if limit := latestDay.Add(24 * time.Hour); end.After(limit) {
		end = limit
	}
	return Window{Start: start, End: end}, nil
}
