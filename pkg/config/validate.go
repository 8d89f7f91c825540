package config

import (
	"fmt"
	"regexp"
)

// Known load-balancing policies.
var knownPolicies = map[string]bool{
	"round-robin":       true,
	"weighted":          true,
	"priority":          true,
	"least-connections": true,
	"health-based":      true,
	"random":            true,
}

// Known protocol families.
var knownFamilies = map[string]bool{
	"openai":    true,
	"anthropic": true,
	"qwen":      true,
}

// Known auth schemes.
var knownAuthSchemes = map[string]bool{
	"none":              true,
	"api-key":           true,
	"bearer":            true,
	"oauth-device-flow": true,
}

// Known mapping transforms. The set is closed; unknown names fail here, at
// load time, never at request time.
var knownTransforms = map[string]bool{
	"mapping":          true,
	"string_transform": true,
	"array_transform":  true,
}

// ValidationError describes a single configuration problem.
type ValidationError struct {
	// Section is the snapshot section (e.g. "virtual_models.gpt-4-equivalent").
	Section string

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Section, e.Message)
}

// Validate checks a snapshot for structural problems before handoff.
// It returns the first problem found.
func Validate(s *Snapshot) error {
	if len(s.VirtualModels) == 0 {
		return &ValidationError{Section: "virtual_models", Message: "at least one virtual model is required"}
	}
	if len(s.Providers) == 0 {
		return &ValidationError{Section: "providers", Message: "at least one provider is required"}
	}

	for id, p := range s.Providers {
		section := "providers." + id
		if p.BaseURL == "" {
			return &ValidationError{Section: section, Message: "base_url is required"}
		}
		if !knownFamilies[p.Family] {
			return &ValidationError{Section: section, Message: fmt.Sprintf("unknown protocol family %q", p.Family)}
		}
		if !knownAuthSchemes[p.Auth.Scheme] {
			return &ValidationError{Section: section, Message: fmt.Sprintf("unknown auth scheme %q", p.Auth.Scheme)}
		}
		if p.Auth.Scheme == "api-key" || p.Auth.Scheme == "bearer" {
			if p.Auth.APIKey == "" {
				return &ValidationError{Section: section, Message: "api_key is required for static auth schemes"}
			}
		}
		if p.Auth.Scheme == "oauth-device-flow" {
			if p.Auth.ClientID == "" || p.Auth.DeviceAuthURL == "" || p.Auth.TokenURL == "" {
				return &ValidationError{Section: section, Message: "client_id, device_auth_url and token_url are required for the device flow"}
			}
		}
	}

	for id, vm := range s.VirtualModels {
		section := "virtual_models." + id
		if len(vm.Targets) == 0 {
			return &ValidationError{Section: section, Message: "at least one target is required"}
		}
		if vm.Policy != "" && !knownPolicies[vm.Policy] {
			return &ValidationError{Section: section, Message: fmt.Sprintf("unknown policy %q", vm.Policy)}
		}

		activeTargets := 0
		for i, t := range vm.Targets {
			tsection := fmt.Sprintf("%s.targets[%d]", section, i)
			if t.Provider == "" || t.Model == "" {
				return &ValidationError{Section: tsection, Message: "provider and model are required"}
			}
			if _, ok := s.Providers[t.Provider]; !ok {
				return &ValidationError{Section: tsection, Message: fmt.Sprintf("unknown provider %q", t.Provider)}
			}
			if t.Weight <= 0 {
				return &ValidationError{Section: tsection, Message: "weight must be positive"}
			}
			switch t.Status {
			case TargetActive:
				activeTargets++
			case TargetDisabled, TargetBlacklisted:
			default:
				return &ValidationError{Section: tsection, Message: fmt.Sprintf("unknown status %q", t.Status)}
			}
		}
		if activeTargets == 0 {
			return &ValidationError{Section: section, Message: "at least one target must be active"}
		}
	}

	if !knownPolicies[s.Scheduler.DefaultPolicy] {
		return &ValidationError{Section: "scheduler", Message: fmt.Sprintf("unknown default policy %q", s.Scheduler.DefaultPolicy)}
	}

	for provider, table := range s.Mappings {
		section := "mappings." + provider
		if _, ok := s.Providers[provider]; !ok {
			return &ValidationError{Section: section, Message: "mapping table references unknown provider"}
		}
		if err := validateFieldMappings(section+".request", table.Request); err != nil {
			return err
		}
		if err := validateFieldMappings(section+".response", table.Response); err != nil {
			return err
		}
	}

	return nil
}

// validateFieldMappings checks one direction of a mapping table.
func validateFieldMappings(section string, mappings []FieldMapping) error {
	for i, fm := range mappings {
		fsection := fmt.Sprintf("%s[%d]", section, i)
		if fm.Source == "" {
			return &ValidationError{Section: fsection, Message: "source path is required"}
		}
		if fm.Target == "" {
			return &ValidationError{Section: fsection, Message: "target path is required"}
		}
		if fm.Transform != nil {
			if !knownTransforms[fm.Transform.Name] {
				return &ValidationError{Section: fsection, Message: fmt.Sprintf("unknown transform %q", fm.Transform.Name)}
			}
			if fm.Transform.Name == "string_transform" && fm.Transform.Op == "replace" {
				if _, err := regexp.Compile(fm.Transform.Pattern); err != nil {
					return &ValidationError{Section: fsection, Message: fmt.Sprintf("invalid replace pattern: %v", err)}
				}
			}
			if fm.Transform.Name == "array_transform" {
				if err := validateFieldMappings(fsection+".fields", fm.Transform.Fields); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
