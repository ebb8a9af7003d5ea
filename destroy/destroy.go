// Package destroy implements the destroy-community handler (spec §4.8): a
// FullSync Member-authenticated Permit, authored only by a community's
// master member (or a member holding an explicit Authorize for the
// reserved destroy meta-message), that either wipes all stored data
// ("hard-kill") or freezes further admission while retaining existing data
// ("soft-kill").
package destroy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/meshcore/community"
	"github.com/opd-ai/meshcore/member"
	"github.com/opd-ai/meshcore/store"
)

// Degree tags the two destroy-community payload variants (spec §4.8).
type Degree uint8

const (
	// HardKill wipes every stored message for the community.
	HardKill Degree = iota
	// SoftKill freezes admission of new messages, retaining existing ones.
	SoftKill
)

// ErrNotAuthorized is returned when the message's signer is neither the
// master member nor holder of an explicit Authorize for the destroy meta.
var ErrNotAuthorized = errors.New("destroy: signer is not authorized to destroy this community")

// Handler applies destroy-community directives to a store and its
// community object.
type Handler struct {
	store  *store.SQLStore
	logger *logrus.Entry
}

// New creates a Handler backed by s.
func New(s *store.SQLStore) *Handler {
	return &Handler{store: s, logger: logrus.WithField("component", "destroy")}
}

// Apply authorizes and applies a destroy-community directive of the given
// degree, signed by signer, against comm. An unauthorized signer leaves the
// store untouched and returns ErrNotAuthorized (spec scenario 5).
func (h *Handler) Apply(ctx context.Context, comm *community.Community, signer member.ID, degree Degree) error {
	if !comm.IsAuthorized(community.MetaDestroyCommunity, signer) {
		h.logger.WithFields(logrus.Fields{"community": comm.ID, "signer": signer}).
			Warn("destroy: rejected unauthorized destroy-community directive")
		return ErrNotAuthorized
	}

	switch degree {
	case HardKill:
		if err := h.store.WipeCommunity(ctx, comm.ID); err != nil {
			return fmt.Errorf("destroy: wipe community: %w", err)
		}
		comm.HardKill()
		h.logger.WithField("community", comm.ID).Info("destroy: hard-killed community")
	case SoftKill:
		comm.SoftKill()
		h.logger.WithField("community", comm.ID).Info("destroy: soft-killed community")
	default:
		return fmt.Errorf("destroy: unknown degree %v", degree)
	}
	return nil
}
