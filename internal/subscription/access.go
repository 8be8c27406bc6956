package subscription

import (
	"context"
	"strings"
)

// Redirect targets for callers that fail the access gate.
const (
	RedirectHome        = "/"
	RedirectVerifyEmail = "/verify-email"
	RedirectSubscribe   = "/subscribe"
)

var accessStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
}

// AccessDecision says whether a user may enter the dashboard and, if not, where to send them.
type AccessDecision struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
}

// CheckAccess gates the dashboard on a verified email and a live subscription. It reads
// only the cached profile.
func (s *Service) CheckAccess(ctx context.Context, userID string) (*AccessDecision, error) {
	if userID == "" {
		return &AccessDecision{Redirect: RedirectHome}, nil
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &AccessDecision{Redirect: RedirectHome}, nil
	}

	if !user.EmailVerified {
		if _, ok := s.verifyExc[strings.ToLower(user.Email)]; !ok {
			return &AccessDecision{Redirect: RedirectVerifyEmail}, nil
		}
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if profile == nil || !profile.Subscription.HasSubscription() || !accessStatuses[profile.Subscription.Status] {
		return &AccessDecision{Redirect: RedirectSubscribe}, nil
	}

	return &AccessDecision{Allowed: true}, nil
}
