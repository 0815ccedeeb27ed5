package chain

import "context"

// SignupUser creates a profile owned by the caller.
func (e *Engine) SignupUser(ctx context.Context, c Caller, name, avatar string) (Address, error) {
	if err := e.limits.checkProfile(name, avatar); err != nil {
		return None, err
	}
	if !e.verifier.Authenticated(c.Authority, c.Signers) {
		return None, &AuthorizationError{Authority: c.Authority, Reason: "authority did not sign the request"}
	}
	var addr Address
	err := e.commit(ctx, "signup_user", func(tx Tx) error {
		var err error
		addr, err = tx.Allocate(KindProfile, e.limits.ProfileSpace())
		if err != nil {
			return asStorage("allocate profile", None, err)
		}
		return Save(tx, addr, &Profile{Name: name, Avatar: avatar, Authority: c.Authority})
	}, nil)
	if err != nil {
		return None, err
	}
	return addr, nil
}

// UpdateUser replaces a profile's name and avatar. Only the profile's
// authority may update it.
func (e *Engine) UpdateUser(ctx context.Context, c Caller, profile Address, name, avatar string) error {
	if err := e.limits.checkProfile(name, avatar); err != nil {
		return err
	}
	return e.commit(ctx, "update_user", func(tx Tx) error {
		var p Profile
		if err := Load(tx, profile, &p); err != nil {
			return err
		}
		if err := e.authorize(c, p.Authority, "profile authority"); err != nil {
			return err
		}
		p.Name = name
		p.Avatar = avatar
		return Save(tx, profile, &p)
	}, nil)
}

// SetAvatar replaces a profile's avatar and leaves its name untouched. It
// returns the avatar it replaced so the caller can reclaim it.
func (e *Engine) SetAvatar(ctx context.Context, c Caller, profile Address, avatar string) (string, error) {
	if err := checkText("avatar", avatar, e.limits.MaxAvatar, false); err != nil {
		return "", err
	}
	var old string
	err := e.commit(ctx, "set_avatar", func(tx Tx) error {
		var p Profile
		if err := Load(tx, profile, &p); err != nil {
			return err
		}
		if err := e.authorize(c, p.Authority, "profile authority"); err != nil {
			return err
		}
		old = p.Avatar
		p.Avatar = avatar
		return Save(tx, profile, &p)
	}, nil)
	if err != nil {
		return "", err
	}
	return old, nil
}
