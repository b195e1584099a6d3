package daemon

import (
	"fmt"
	"os/user"
	"strconv"
)

// LookupIdentity resolves a user and an optional group name. Without a group
// the user's primary group is used.
func LookupIdentity(userName, groupName string) (Identity, error) {
	u, err := user.Lookup(userName)
	if err != nil {
		return Identity{}, fmt.Errorf("lookup user %q: %w", userName, err)
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("user %q has non-numeric uid %q", userName, u.Uid)
	}

	gidStr := u.Gid
	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return Identity{}, fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		gidStr = g.Gid
	}
	gid, err := strconv.ParseUint(gidStr, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("group %q has non-numeric gid %q", groupName, gidStr)
	}

	return Identity{User: userName, Group: groupName, UID: uint32(uid), GID: uint32(gid)}, nil
}
