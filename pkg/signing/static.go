package signing

import "context"

// StaticSigner serves token sessions that carry a fixed bearer value
// instead of computed request signatures. Fansly-style platforms use this.
type StaticSigner struct {
	token    string
	appToken string
}

// NewStaticSigner creates a signer that returns the same token for every
// request.
func NewStaticSigner(token, appToken string) *StaticSigner {
	return &StaticSigner{token: token, appToken: appToken}
}

// Sign returns the static token regardless of path or timestamp.
func (s *StaticSigner) Sign(_ context.Context, _ string, _ int64) (string, string, error) {
	return s.token, s.appToken, nil
}
