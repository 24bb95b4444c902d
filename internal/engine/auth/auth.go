package auth

import (
	"fmt"
	"sort"
)

const (
	PermValidationSubmit    = "validation.submit"
	PermValidationRead      = "validation.read"
	PermValidationDecide    = "validation.decide"
	PermAnalysisAttach      = "analysis.attach"
	PermMetricsRead         = "metrics.read"
	PermWorkflowStart       = "workflow.start"
	PermWorkflowRead        = "workflow.read"
	PermWorkflowCommunicate = "workflow.communicate"
	PermBotManage           = "bot.manage"
	PermAuditRead           = "audit.read"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Policy maps role ids to the permissions they grant, as configured under auth.roles.
type Policy struct {
	Roles map[string][]string
}

func (p Policy) HasRole(role string) bool {
	_, ok := p.Roles[role]
	return ok
}

// Permissions returns the sorted union of permissions granted by roles.
// Unknown roles grant nothing.
func (p Policy) Permissions(roles []string) []string {
	set := map[string]struct{}{}
	for _, r := range roles {
		for _, perm := range p.Roles[r] {
			set[perm] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for perm := range set {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}

// Check returns ForbiddenError unless one of roles, or the explicit grants,
// carries perm.
func (p Policy) Check(roles, grants []string, perm string) error {
	for _, g := range grants {
		if g == perm {
			return nil
		}
	}
	for _, r := range roles {
		for _, granted := range p.Roles[r] {
			if granted == perm {
				return nil
			}
		}
	}
	return ForbiddenError{Permission: perm}
}
