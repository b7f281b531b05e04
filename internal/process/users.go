package process

import (
	"os/user"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DefaultNameExpiration is how long a resolved user or group name is kept.
const DefaultNameExpiration = time.Hour

// NameResolver turns numeric user and group ids into names. Lookups,
// including failed ones, are cached.
type NameResolver struct {
	users  *cache.Cache
	groups *cache.Cache

	lookupUser  func(uid string) (*user.User, error)
	lookupGroup func(gid string) (*user.Group, error)
}

// NewNameResolver returns a resolver caching names for ttl.
func NewNameResolver(ttl time.Duration) *NameResolver {
	return &NameResolver{
		users:       cache.New(ttl, 2*ttl),
		groups:      cache.New(ttl, 2*ttl),
		lookupUser:  user.LookupId,
		lookupGroup: user.LookupGroupId,
	}
}

var defaultNames = NewNameResolver(DefaultNameExpiration)

// UserName returns the login name for uid, or UnknownName.
func (r *NameResolver) UserName(uid string) string {
	if uid == "" {
		return UnknownName
	}
	if name, ok := r.users.Get(uid); ok {
		return name.(string)
	}
	name := UnknownName
	if u, err := r.lookupUser(uid); err == nil {
		name = u.Username
	} else {
		zap.S().Debugw("user lookup failed", "uid", uid, "error", err)
	}
	r.users.SetDefault(uid, name)
	return name
}

// GroupName returns the name of gid, or UnknownName.
func (r *NameResolver) GroupName(gid string) string {
	if gid == "" {
		return UnknownName
	}
	if name, ok := r.groups.Get(gid); ok {
		return name.(string)
	}
	name := UnknownName
	if g, err := r.lookupGroup(gid); err == nil {
		name = g.Name
	} else {
		zap.S().Debugw("group lookup failed", "gid", gid, "error", err)
	}
	r.groups.SetDefault(gid, name)
	return name
}
