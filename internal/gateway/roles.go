package gateway

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/agentic-warden/mcp-gateway/internal/gwerr"
)

const (
	rolesBuiltinSubdir = "builtin"
	rolesUserSubdir    = "user"
	roleYAML           = "role.yaml"
)

// RoleInfo is a single entry returned by list_roles, parsed from a
// <roles_dir>/{builtin,user}/<name>/role.yaml file. The scan walks
// subdirectories and silently skips ones with no role.yaml. A role.yaml
// that fails to parse aborts the whole scan with an InvalidArgument error;
// no partial list is returned.
type RoleInfo struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Dir         string `yaml:"-"`
}

// RoleList is the list_roles response shape.
type RoleList struct {
	BuiltinRoles []RoleInfo
	UserRoles    []RoleInfo
}

// ListRoles reads rolesDir/builtin and rolesDir/user, each a directory of
// <name>/role.yaml definitions. A missing rolesDir, or a missing
// builtin/user subdirectory, yields an empty list rather than an error —
// the roles directory is an optional external collaborator.
func ListRoles(rolesDir string) (RoleList, error) {
	builtin, err := scanRoleDir(filepath.Join(rolesDir, rolesBuiltinSubdir))
	if err != nil {
		return RoleList{}, err
	}
	user, err := scanRoleDir(filepath.Join(rolesDir, rolesUserSubdir))
	if err != nil {
		return RoleList{}, err
	}
	return RoleList{BuiltinRoles: builtin, UserRoles: user}, nil
}

func scanRoleDir(dir string) ([]RoleInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, gwerr.Wrap(gwerr.TransportError, err, "list_roles: read %q", dir)
	}

	var roles []RoleInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), roleYAML)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, gwerr.Wrap(gwerr.TransportError, err, "list_roles: read %q", path)
		}
		var info RoleInfo
		if err := yaml.Unmarshal(data, &info); err != nil {
			return nil, gwerr.Wrap(gwerr.InvalidArgument, err, "list_roles: parse %q", path)
		}
		if info.Name == "" {
			info.Name = e.Name()
		}
		info.Dir = filepath.Dir(path)
		roles = append(roles, info)
	}
	return roles, nil
}
