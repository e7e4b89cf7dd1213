package models

import (
	"errors"
	"fmt"
	"strings"
)

// ShortCommitLen is the number of leading commit characters used for
// on-disk placement and registry identity
const ShortCommitLen = 12

var (
	// ErrInvalidRole is returned for a remote filename outside the known set
	ErrInvalidRole = errors.New("invalid artifact file")

	// ErrInvalidCommit is returned for an empty or non-hex commit identifier
	ErrInvalidCommit = errors.New("invalid commit")
)

// Role identifies which build artifact of a commit is meant
type Role string

const (
	RoleArchive  Role = "ARCHIVE"
	RoleManifest Role = "MANIFEST"
	RoleChecksum Role = "CHECKSUM"
)

type roleFiles struct {
	remote string
	local  string
}

var roles = map[Role]roleFiles{
	RoleArchive:  {remote: "repo.zip", local: "tuf-mupdate.zip"},
	RoleManifest: {remote: "manifest.toml", local: "manifest.toml"},
	RoleChecksum: {remote: "repo.zip.sha256.txt", local: "tuf-mupdate.zip.sha256.txt"},
}

// Roles returns every known role in a stable order
func Roles() []Role {
	return []Role{RoleArchive, RoleManifest, RoleChecksum}
}

// ParseRole maps a canonical remote filename (e.g. "repo.zip") to its role
func ParseRole(remoteName string) (Role, error) {
	for role, files := range roles {
		if files.remote == remoteName {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, remoteName)
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	_, ok := roles[r]
	return ok
}

// RemoteName returns the filename the artifact store serves this role under
func (r Role) RemoteName() string {
	return roles[r].remote
}

// LocalName returns the filename this role is persisted under
func (r Role) LocalName() string {
	return roles[r].local
}

// ArtifactKey identifies one artifact of one commit
type ArtifactKey struct {
	Commit string
	Role   Role
}

// NewArtifactKey validates commit and role and builds a key
func NewArtifactKey(commit string, role Role) (ArtifactKey, error) {
	commit = strings.TrimSpace(commit)
	if commit == "" || !isHex(commit) {
		return ArtifactKey{}, fmt.Errorf("%w: %q", ErrInvalidCommit, commit)
	}
	if !role.Valid() {
		return ArtifactKey{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	return ArtifactKey{Commit: commit, Role: role}, nil
}

// Short returns the short commit the key is placed and tracked under.
// Two keys whose commits share the same short prefix and role are the same
// artifact.
func (k ArtifactKey) Short() string {
	return ShortCommit(k.Commit)
}

// ID is the registry identity of the key: "<short commit>/<remote filename>"
func (k ArtifactKey) ID() string {
	return k.Short() + "/" + k.Role.RemoteName()
}

// ShortCommit truncates a commit identifier to ShortCommitLen characters
func ShortCommit(commit string) string {
	if len(commit) <= ShortCommitLen {
		return commit
	}
	return commit[:ShortCommitLen]
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
