// Package featureflag toggles optional server behaviors from the command
// line.
package featureflag

import (
	"sort"
	"strings"
)

// FeatureFlag is the set of enabled flags.
type FeatureFlag map[Flag]struct{}

// New returns the feature flags named in flags. Names are trimmed and
// upper cased; empty names are ignored.
func New(flags []string) FeatureFlag {
	featureFlag := make(FeatureFlag)
	for _, f := range flags {
		f = strings.ToUpper(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		featureFlag[Flag(f)] = struct{}{}
	}
	return featureFlag
}

func (f FeatureFlag) IsSet(flag Flag) bool {
	_, ok := f[flag]
	return ok
}

// IfSet runs do when flag is enabled.
func (f FeatureFlag) IfSet(flag Flag, do func()) {
	if f.IsSet(flag) {
		do()
	}
}

// IfNotSet runs do when flag is disabled.
func (f FeatureFlag) IfNotSet(flag Flag, do func()) {
	if !f.IsSet(flag) {
		do()
	}
}

// Strings returns the enabled flags in alphabetical order.
func (f FeatureFlag) Strings() []string {
	s := make([]string, 0, len(f))
	for flag := range f {
		s = append(s, string(flag))
	}
	sort.Strings(s)
	return s
}
