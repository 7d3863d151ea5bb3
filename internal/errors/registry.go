package errors

import "sort"

// ErrorTemplate defines a registered diagnostic.
type ErrorTemplate struct {
	Category Category
	Severity Severity
	Message  string
}

// registry maps codes to their templates.
var registry = map[string]ErrorTemplate{
	// Startup checks (C001-C099)
	"C001": {
		Category: CategoryStorage,
		Severity: SeverityError,
		Message:  "Datastore is not concurrency safe",
	},
	"C002": {
		Category: CategoryRouting,
		Severity: SeverityWarning,
		Message:  "Runtime routes are not mounted",
	},
	"C003": {
		Category: CategoryAssets,
		Severity: SeverityWarning,
		Message:  "Client bundle not found",
	},
	"C004": {
		Category: CategoryConfig,
		Severity: SeverityError,
		Message:  "Configuration value has the wrong type",
	},
	"C005": {
		Category: CategoryRegistry,
		Severity: SeverityWarning,
		Message:  "Component failed to register",
	},
	"C006": {
		Category: CategoryConfig,
		Severity: SeverityError,
		Message:  "Configuration references an unknown name",
	},
	"C007": {
		Category: CategoryConfig,
		Severity: SeverityWarning,
		Message:  "Session cleanup window is shorter than the reconnect window",
	},

	// Configuration loading (C100-C199)
	"C100": {
		Category: CategoryConfig,
		Severity: SeverityError,
		Message:  "Configuration file not found",
	},
	"C101": {
		Category: CategoryConfig,
		Severity: SeverityError,
		Message:  "Configuration file is not valid YAML",
	},

	// Runtime (R001-R099)
	"R001": {
		Category: CategoryRegistry,
		Severity: SeverityError,
		Message:  "Component could not be imported",
	},
	"R002": {
		Category: CategoryStorage,
		Severity: SeverityWarning,
		Message:  "Cleaner pass failed",
	},
}

// GetAllCodes returns all registered codes in sorted order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for a code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
