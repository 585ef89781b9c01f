package netboot

import (
	"sort"
	"strings"

	"github.com/bbernstein/netboot-go/internal/validate"
)

// ValidationErrors maps a field name to a message. It is produced before any
// request is made.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for f := range v {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+v[f])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// OrNil returns nil when there are no errors so callers can return it as error.
func (v ValidationErrors) OrNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// ValidateIP reports whether ip is a dotted-quad IPv4 address.
func ValidateIP(ip string) bool {
	return validate.IPv4(ip)
}

func checkDescription(errs ValidationErrors, d string) {
	if strings.TrimSpace(d) == "" {
		errs["description"] = "description cannot be empty"
	}
}

func checkRegion(errs ValidationErrors, r Region) {
	if !r.Valid() {
		errs["region"] = "unknown region"
	}
}

func checkTarget(errs ValidationErrors, t Target) {
	if !t.Valid() {
		errs["target"] = "unknown target"
	}
}

// Firmware versions are free text so that cabinets running unlisted
// revisions can still be registered.
func checkVersion(errs ValidationErrors, v string) {
	if strings.TrimSpace(v) == "" {
		errs["version"] = "version cannot be empty"
	}
}

func checkSendTimeout(errs ValidationErrors, t *int) {
	if t != nil && *t <= 0 {
		errs["send_timeout"] = "timeout must be a positive number of seconds"
	}
}
