package domain

import (
	"sort"
	"strings"
)

// Built-in role names seeded at startup.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

// Role groups a set of permissions under a unique name.
type Role struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
	System      bool     `json:"system"`
}

// Permission is a named capability in "resource:action" form.
type Permission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ParsePermission splits a "resource:action" name. Both halves must be
// non-empty.
func ParsePermission(name string) (resource, action string, err error) {
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return "", "", ValidationError("permission must have the form resource:action")
	}
	return resource, action, nil
}

// PermissionSet is the effective permission membership of a role.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from permission names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// Has reports whether the set contains the permission.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the permissions in sorted order.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
