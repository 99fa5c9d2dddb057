package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pricetrail.io/internal/auth"
	"pricetrail.io/internal/ids"
	"pricetrail.io/internal/obs"
)

// Resolver maps identities to permission records and gates capabilities.
// It is the authority for every mutating operation; clients only use the
// resolved flags to hide controls.
type Resolver struct {
	store  Store
	logger *zap.Logger

	// lower-cased account emails that always hold every flag
	bootstrap map[string]struct{}
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithBootstrapAdmins grants every flag to the accounts registered under
// the given emails. Matching is on the account email only, never on the
// display name, which any caller can pick at sign-up.
func WithBootstrapAdmins(emails ...string) ResolverOption {
	return func(r *Resolver) {
		for _, e := range emails {
			if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
				r.bootstrap[e] = struct{}{}
			}
		}
	}
}

// NewResolver builds a Resolver over store.
func NewResolver(store Store, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{store: store, logger: logger.Named("permissions"), bootstrap: map[string]struct{}{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity's record, linking or creating it on first sight.
func (r *Resolver) Resolve(ctx context.Context, identity auth.Identity) (Record, error) {
	userID := strings.TrimSpace(identity.ID)
	if userID == "" {
		return Record{}, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	rec, outcome, err := r.store.Resolve(ctx, userID, identity.UserName(), ids.New())
	if err != nil {
		obs.PermissionResolutions.WithLabelValues("error").Inc()
		return Record{}, err
	}
	obs.PermissionResolutions.WithLabelValues(string(outcome)).Inc()
	if r.isBootstrap(identity) && rec.Flags != AllFlags() {
		rec, err = r.store.UpdateFlags(ctx, rec.ID, AllFlags())
		if err != nil {
			return Record{}, fmt.Errorf("bootstrap admin: %w", err)
		}
		r.logger.Info("bootstrap admin granted",
			zap.String("user_id", userID),
			zap.String("record_id", rec.ID))
	}
	if outcome != OutcomeFound {
		r.logger.Info("permission record resolved",
			zap.String("outcome", string(outcome)),
			zap.String("user_id", userID),
			zap.String("record_id", rec.ID),
			zap.String("user_name", rec.UserName))
	}
	return rec, nil
}

func (r *Resolver) isBootstrap(identity auth.Identity) bool {
	if len(r.bootstrap) == 0 {
		return false
	}
	_, ok := r.bootstrap[strings.ToLower(strings.TrimSpace(identity.Email))]
	return ok
}

// Capabilities resolves identity and evaluates its flags. Any failure denies all.
func (r *Resolver) Capabilities(ctx context.Context, identity auth.Identity) (Capabilities, error) {
	rec, err := r.Resolve(ctx, identity)
	if err != nil {
		r.logger.Warn("permission lookup failed, denying all",
			zap.String("user_id", identity.ID), zap.Error(err))
		return CapabilitiesOf(nil), err
	}
	return CapabilitiesOf(&rec), nil
}

// Require returns ErrForbidden unless identity holds capability. Lookup
// failures are returned as-is; either way the action must not proceed.
func (r *Resolver) Require(ctx context.Context, identity auth.Identity, capability Capability) error {
	caps, err := r.Capabilities(ctx, identity)
	if err != nil {
		return err
	}
	if !caps.Allows(capability) {
		return fmt.Errorf("%w: %s required", ErrForbidden, capability)
	}
	return nil
}

// IsForbidden reports whether err is a capability denial.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
