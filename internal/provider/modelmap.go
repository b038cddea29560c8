package provider

import (
	"sort"
	"strings"

	"llmgate/internal/models"
)

// modelsCreated is the fixed creation timestamp reported for listed aliases.
const modelsCreated = 1687882411

// ModelMap translates canonical model identifiers to a backend's native ones.
type ModelMap struct {
	Aliases map[string]string
	Default string
	// Passthrough sends unknown non-empty identifiers verbatim instead of using Default.
	Passthrough bool
}

// Resolve returns the backend model for a canonical identifier.
func (m ModelMap) Resolve(model string) string {
	if target, ok := m.Aliases[model]; ok {
		return target
	}
	if m.Passthrough && strings.TrimSpace(model) != "" {
		return model
	}
	return m.Default
}

// WithOverrides returns a copy with extra aliases merged in and, when set, a new default.
func (m ModelMap) WithOverrides(aliases map[string]string, defaultModel string) ModelMap {
	merged := make(map[string]string, len(m.Aliases)+len(aliases))
	for k, v := range m.Aliases {
		merged[k] = v
	}
	for k, v := range aliases {
		merged[k] = v
	}
	out := ModelMap{Aliases: merged, Default: m.Default, Passthrough: m.Passthrough}
	if defaultModel != "" {
		out.Default = defaultModel
	}
	return out
}

// List reports every alias and native model the map knows about.
func (m ModelMap) List(ownedBy string) []models.Model {
	ids := make(map[string]struct{}, len(m.Aliases)*2+1)
	for alias, target := range m.Aliases {
		ids[alias] = struct{}{}
		ids[target] = struct{}{}
	}
	if m.Default != "" {
		ids[m.Default] = struct{}{}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	out := make([]models.Model, 0, len(sorted))
	for _, id := range sorted {
		out = append(out, models.Model{
			ID:      id,
			Object:  models.ObjectModel,
			Created: modelsCreated,
			OwnedBy: ownedBy,
		})
	}
	return out
}
