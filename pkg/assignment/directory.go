package assignment

import (
	"context"
	"sort"

	"mercator-hq/gatekeeper/pkg/config"
)

// RoleDirectory looks up the users currently holding a role in a tenant.
// Implementations return only active holders.
type RoleDirectory interface {
	RoleHolders(ctx context.Context, tenantID, role string) ([]string, error)
}

// WildcardTenant holds roles that apply to every tenant.
const WildcardTenant = "*"

// StaticDirectory is a RoleDirectory backed by configuration.
type StaticDirectory struct {
	roles    map[string]map[string][]string
	inactive map[string]bool
}

// NewStaticDirectory builds a directory from cfg. The configuration is
// copied.
func NewStaticDirectory(cfg config.DirectoryConfig) *StaticDirectory {
	d := &StaticDirectory{
		roles:    make(map[string]map[string][]string, len(cfg.Roles)),
		inactive: make(map[string]bool, len(cfg.Inactive)),
	}
	for tenant, roles := range cfg.Roles {
		m := make(map[string][]string, len(roles))
		for role, users := range roles {
			m[role] = append([]string(nil), users...)
		}
		d.roles[tenant] = m
	}
	for _, u := range cfg.Inactive {
		d.inactive[u] = true
	}
	return d
}

// RoleHolders returns the active holders of role in tenantID plus holders
// configured for every tenant, sorted and without duplicates.
func (d *StaticDirectory) RoleHolders(ctx context.Context, tenantID, role string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []string
	for _, tenant := range []string{tenantID, WildcardTenant} {
		for _, user := range d.roles[tenant][role] {
			if user == "" || seen[user] || d.inactive[user] {
				continue
			}
			seen[user] = true
			out = append(out, user)
		}
	}
	sort.Strings(out)
	return out, nil
}
