package memberships

import "errors"

var (
	errGroupNotActive = errors.New("group is not active")
	errGroupFull      = errors.New("group is full")
	errAlreadyMember  = errors.New("already a member")
)
