// Package ladder loads balance alert ladders from YAML files.
//
// A ladder file customizes the thresholds the balance monitor alerts on.
// When no file is configured the built-in ladder applies.
package ladder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/moshano/autobot/internal/domain"
	"gopkg.in/yaml.v3"
)

type ladderYAML struct {
	Thresholds []thresholdYAML `yaml:"thresholds"`
}

type thresholdYAML struct {
	Amount  float64 `yaml:"amount"`
	Urgency string  `yaml:"urgency"`
	Action  string  `yaml:"action"`
}

var urgencies = map[string]domain.Urgency{
	"low":        domain.UrgencyLow,
	"low-medium": domain.UrgencyLowMedium,
	"medium":     domain.UrgencyMedium,
	"high":       domain.UrgencyHigh,
	"critical":   domain.UrgencyCritical,
}

// Load reads a ladder from the YAML file at path. An empty path yields the
// built-in default ladder. The result is sorted by amount and validated.
func Load(path string) (domain.Ladder, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultLadder(), nil
	}
	// Mitigate file inclusion issues by constraining to current working directory.
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	wd = filepath.Clean(wd)
	if os.Getenv("LADDER_ALLOW_ABSPATHS") != "1" {
		if !strings.HasPrefix(abs, wd+string(os.PathSeparator)) && abs != wd {
			return nil, fmt.Errorf("disallowed path: %s", abs)
		}
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("ladder file not found: %s", path)
		}
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML ladder bytes. It accepts either a document with a
// thresholds key or a bare list of threshold entries.
func Parse(b []byte) (domain.Ladder, error) {
	var doc ladderYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		// Fallback: try bare list of thresholds
		var ls []thresholdYAML
		if err2 := yaml.Unmarshal(b, &ls); err2 != nil {
			return nil, fmt.Errorf("yaml parse: %w", err)
		}
		doc.Thresholds = ls
	}
	if len(doc.Thresholds) == 0 {
		var ls []thresholdYAML
		if err := yaml.Unmarshal(b, &ls); err == nil {
			doc.Thresholds = ls
		}
	}
	if len(doc.Thresholds) == 0 {
		return nil, fmt.Errorf("no thresholds: %w", domain.ErrInvalidArgument)
	}

	l := make(domain.Ladder, 0, len(doc.Thresholds))
	for i, t := range doc.Thresholds {
		u, ok := urgencies[strings.ToLower(strings.TrimSpace(t.Urgency))]
		if !ok {
			return nil, fmt.Errorf("unknown urgency %q at index %d: %w", t.Urgency, i, domain.ErrInvalidArgument)
		}
		l = append(l, domain.Threshold{
			Amount:  t.Amount,
			Urgency: u,
			Action:  strings.TrimSpace(t.Action),
		})
	}
	sort.Slice(l, func(i, j int) bool { return l[i].Amount < l[j].Amount })
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}
