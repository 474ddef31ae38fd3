package tariff

import "fmt"

// ConfigurationError reports a tariff document or lookup that cannot
// produce a single unambiguous price.
type ConfigurationError struct {
	Vendor string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Vendor == "" {
		return "tariff configuration: " + e.Reason
	}
	return fmt.Sprintf("tariff configuration: vendor %q: %s", e.Vendor, e.Reason)
}

func configErrorf(vendor, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Vendor: vendor, Reason: fmt.Sprintf(format, args...)}
}
