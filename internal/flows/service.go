package flows

import "context"

// Service is the flow runner built once by the engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired.
func (s Service) Initialized() bool {
	return s.deps.Login.Mint != nil && s.deps.Authorize.Decode != nil
}

func (s Service) Login(ctx context.Context, in LoginInput) LoginResult {
	return RunLogin(ctx, in, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Logout(ctx context.Context, token string) LogoutResult {
	return RunLogout(ctx, token, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, principalID int64) error {
	return RunLogoutAll(ctx, principalID, s.deps.Logout)
}

func (s Service) Authenticate(ctx context.Context, token string) AuthResult {
	return RunAuthenticate(ctx, token, s.deps.Authorize)
}

func (s Service) Authorize(ctx context.Context, token string, grant Grant) AuthResult {
	return RunAuthorize(ctx, token, grant, s.deps.Authorize)
}
