package chain

import "slices"

// Caller is the claimed identity behind an operation together with the set
// of identities that signed the request.
type Caller struct {
	Authority Address
	Signers   []Address
}

// SignedBy returns a Caller whose authority is the first signer.
func SignedBy(signers ...Address) Caller {
	c := Caller{Signers: signers}
	if len(signers) > 0 {
		c.Authority = signers[0]
	}
	return c
}

// Verifier decides whether a claimed identity is authenticated by the
// signer set of a request.
type Verifier interface {
	Authenticated(claim Address, signers []Address) bool
}

// SignerSet authenticates a claim that appears in the signer set.
type SignerSet struct{}

func (SignerSet) Authenticated(claim Address, signers []Address) bool {
	if claim.IsNone() {
		return false
	}
	return slices.Contains(signers, claim)
}

// authorize checks that the caller is authenticated and equals owner. It runs
// before any write.
func (e *Engine) authorize(c Caller, owner Address, what string) error {
	if !e.verifier.Authenticated(c.Authority, c.Signers) {
		return &AuthorizationError{Authority: c.Authority, Reason: "authority did not sign the request"}
	}
	if c.Authority != owner {
		return &AuthorizationError{Authority: c.Authority, Reason: "not the " + what}
	}
	return nil
}
