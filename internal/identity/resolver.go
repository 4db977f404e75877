package identity

import (
	"context"
	"fmt"
	"time"

	"chatfunnel/internal/constants"
	"chatfunnel/internal/models"
	"chatfunnel/pkg/gateway"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the resolver needs.
type Store interface {
	GetIdentityMapping(ctx context.Context, accountID, opaqueID string) (*models.IdentityMapping, error)
	SaveIdentityMapping(ctx context.Context, m *models.IdentityMapping) (bool, error)
	UpsertGatewayContacts(ctx context.Context, accountID string, contacts []models.GatewayContact) error
	GetGatewayContact(ctx context.Context, accountID, jid string) (*models.GatewayContact, error)
	FindPhoneByAvatar(ctx context.Context, accountID, avatarURL string) (string, error)
	FindUniquePhoneByName(ctx context.Context, accountID, displayName string) (string, error)
	CorrelateByTimestamp(ctx context.Context, accountID, opaqueID string, window time.Duration, minSamples, sampleLimit int) (string, error)
}

// Resolver maps gateway opaque contact ids to phone numbers by walking a
// fixed strategy cascade, cheapest first. Results land in the store with
// their source attached, and in a short-lived in-process cache.
type Resolver struct {
	store   Store
	gw      gateway.Client
	cache   *gocache.Cache
	logger  *logrus.Logger
	corrWin time.Duration
	corrMin int
	corrMax int
}

func NewResolver(store Store, gw gateway.Client, logger *logrus.Logger) *Resolver {
	ttl := time.Duration(constants.DefaultIdentityCacheTTLSec) * time.Second
	return &Resolver{
		store:   store,
		gw:      gw,
		cache:   gocache.New(ttl, 2*ttl),
		logger:  logger,
		corrWin: time.Duration(constants.DefaultCorrelationWindowSec) * time.Second,
		corrMin: constants.DefaultCorrelationMinSamples,
		corrMax: constants.DefaultCorrelationSampleLimit,
	}
}

func cacheKey(accountID, opaqueID string) string {
	return accountID + "|" + opaqueID
}

// Resolve returns the phone behind an opaque id, or "" when every
// strategy comes up empty. pushName is the display name the triggering
// event carried, if any; it feeds the name-based strategies.
func (r *Resolver) Resolve(ctx context.Context, accountID, instance, opaqueID, pushName string) (string, error) {
	if !models.IsOpaqueJID(opaqueID) {
		return models.PhoneFromJID(opaqueID), nil
	}

	log := r.logger.WithFields(logrus.Fields{
		"account_id": accountID,
		"opaque_id":  opaqueID,
	})

	// Cached hits are revalidated against the store so a mapping upgraded
	// or corrected elsewhere is never shadowed by a stale process cache.
	if cached, found := r.cache.Get(cacheKey(accountID, opaqueID)); found {
		phone := cached.(string)
		mapping, err := r.store.GetIdentityMapping(ctx, accountID, opaqueID)
		if err == nil && mapping != nil && mapping.Phone == phone {
			return phone, nil
		}
		r.cache.Delete(cacheKey(accountID, opaqueID))
	}

	mapping, err := r.store.GetIdentityMapping(ctx, accountID, opaqueID)
	if err != nil {
		return "", fmt.Errorf("mapping lookup failed: %w", err)
	}
	if mapping != nil {
		r.cache.SetDefault(cacheKey(accountID, opaqueID), mapping.Phone)
		return mapping.Phone, nil
	}

	directory := r.refreshDirectory(ctx, accountID, instance, log)

	if phone := r.resolveByDirectoryAvatar(ctx, accountID, instance, opaqueID, directory, log); phone != "" {
		return r.commit(ctx, accountID, opaqueID, phone, pushName, models.SourceDirectoryAvatar, log)
	}
	if phone := r.resolveByDirectoryName(opaqueID, pushName, directory); phone != "" {
		return r.commit(ctx, accountID, opaqueID, phone, pushName, models.SourceDirectoryName, log)
	}
	if phone := r.resolveByInternalAvatar(ctx, accountID, opaqueID, log); phone != "" {
		return r.commit(ctx, accountID, opaqueID, phone, pushName, models.SourceInternalContacts, log)
	}
	if phone := r.resolveByInternalName(ctx, accountID, opaqueID, pushName, log); phone != "" {
		return r.commit(ctx, accountID, opaqueID, phone, pushName, models.SourceInternalContacts, log)
	}

	phone, err := r.store.CorrelateByTimestamp(ctx, accountID, opaqueID, r.corrWin, r.corrMin, r.corrMax)
	if err != nil {
		log.WithError(err).Warn("Timestamp correlation failed")
	} else if phone != "" {
		return r.commit(ctx, accountID, opaqueID, phone, pushName, models.SourceCorrelation, log)
	}

	log.Debug("Identity unresolved after full cascade")
	return "", nil
}

// refreshDirectory pulls the live contact directory and mirrors it into
// the local table. A gateway failure degrades to the mirror.
func (r *Resolver) refreshDirectory(ctx context.Context, accountID, instance string, log *logrus.Entry) []models.GatewayContact {
	contacts, err := r.gw.FetchContacts(ctx, instance)
	if err != nil {
		log.WithError(err).Warn("Directory fetch failed, falling back to cached contacts")
		return nil
	}
	if err := r.store.UpsertGatewayContacts(ctx, accountID, contacts); err != nil {
		log.WithError(err).Warn("Failed to mirror gateway directory")
	}
	return contacts
}

func (r *Resolver) resolveByDirectoryAvatar(ctx context.Context, accountID, instance, opaqueID string, directory []models.GatewayContact, log *logrus.Entry) string {
	avatar := ""
	for _, c := range directory {
		if c.JID == opaqueID {
			avatar = c.AvatarURL
			break
		}
	}
	if avatar == "" {
		var err error
		if avatar, err = r.gw.FetchAvatar(ctx, instance, opaqueID); err != nil {
			log.WithError(err).Debug("Avatar fetch failed")
			return ""
		}
	}
	if avatar == "" {
		return ""
	}

	for _, c := range directory {
		if models.IsPhoneJID(c.JID) && models.SameAvatar(c.AvatarURL, avatar) {
			return models.PhoneFromJID(c.JID)
		}
	}

	phone, err := r.store.FindPhoneByAvatar(ctx, accountID, avatar)
	if err != nil {
		log.WithError(err).Debug("Avatar table scan failed")
		return ""
	}
	return phone
}

func (r *Resolver) resolveByDirectoryName(opaqueID, pushName string, directory []models.GatewayContact) string {
	name := pushName
	for _, c := range directory {
		if c.JID == opaqueID && c.DisplayName != "" {
			name = c.DisplayName
			break
		}
	}
	if name == "" {
		return ""
	}

	match := ""
	for _, c := range directory {
		if models.IsPhoneJID(c.JID) && c.DisplayName == name {
			if match != "" {
				return "" // ambiguous name
			}
			match = models.PhoneFromJID(c.JID)
		}
	}
	return match
}

func (r *Resolver) resolveByInternalAvatar(ctx context.Context, accountID, opaqueID string, log *logrus.Entry) string {
	contact, err := r.store.GetGatewayContact(ctx, accountID, opaqueID)
	if err != nil || contact == nil || contact.AvatarURL == "" {
		return ""
	}
	phone, err := r.store.FindPhoneByAvatar(ctx, accountID, contact.AvatarURL)
	if err != nil {
		log.WithError(err).Debug("Internal avatar scan failed")
		return ""
	}
	return phone
}

func (r *Resolver) resolveByInternalName(ctx context.Context, accountID, opaqueID, pushName string, log *logrus.Entry) string {
	name := pushName
	if contact, err := r.store.GetGatewayContact(ctx, accountID, opaqueID); err == nil && contact != nil && contact.DisplayName != "" {
		name = contact.DisplayName
	}
	if name == "" {
		return ""
	}
	phone, err := r.store.FindUniquePhoneByName(ctx, accountID, name)
	if err != nil {
		log.WithError(err).Debug("Internal name scan failed")
		return ""
	}
	return phone
}

func (r *Resolver) commit(ctx context.Context, accountID, opaqueID, phone, pushName string, source models.ResolutionSource, log *logrus.Entry) (string, error) {
	saved, err := r.store.SaveIdentityMapping(ctx, &models.IdentityMapping{
		AccountID:   accountID,
		OpaqueID:    opaqueID,
		Phone:       phone,
		Source:      source,
		DisplayName: pushName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to save mapping: %w", err)
	}
	if !saved {
		// A higher-trust mapping landed first; answer with that one and
		// leave the cache alone.
		existing, err := r.store.GetIdentityMapping(ctx, accountID, opaqueID)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.Phone, nil
		}
		return phone, nil
	}

	r.cache.SetDefault(cacheKey(accountID, opaqueID), phone)
	log.WithFields(logrus.Fields{"source": source}).Info("Identity resolved")
	return phone, nil
}

// Forget drops the in-process cache entry for one opaque id.
func (r *Resolver) Forget(accountID, opaqueID string) {
	r.cache.Delete(cacheKey(accountID, opaqueID))
}
