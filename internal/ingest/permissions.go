package ingest

import (
	"fmt"
	"strings"

	"smsrelay/internal/domain"
)

type Grant string

const (
	GrantReadSMS    Grant = "read_sms"
	GrantReceiveSMS Grant = "receive_sms"
)

// Required lists the grants SMS capture needs.
var Required = []Grant{GrantReadSMS, GrantReceiveSMS}

// Permissions answers whether a capability has been granted to this process.
type Permissions interface {
	Granted(g Grant) bool
}

type GrantSet map[Grant]bool

// ParseGrants builds a GrantSet from names like "read_sms". Blank names are
// skipped; unknown names are kept so they show up in logs.
func ParseGrants(names []string) GrantSet {
	gs := GrantSet{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			gs[Grant(n)] = true
		}
	}
	return gs
}

func (gs GrantSet) Granted(g Grant) bool { return gs[g] }

// Missing returns the required grants p does not hold.
func Missing(p Permissions) []Grant {
	var out []Grant
	for _, g := range Required {
		if p == nil || !p.Granted(g) {
			out = append(out, g)
		}
	}
	return out
}

type PermissionError struct {
	Missing []Grant
}

func (e *PermissionError) Error() string {
	names := make([]string, len(e.Missing))
	for i, g := range e.Missing {
		names[i] = string(g)
	}
	return fmt.Sprintf("permission error: missing %s", strings.Join(names, ", "))
}

func (e *PermissionError) Unwrap() error { return domain.ErrPermission }
