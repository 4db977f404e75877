package identity

import (
	"context"

	"chatfunnel/internal/models"

	"github.com/sirupsen/logrus"
)

// LearnedPair is an opaque-id-to-phone link established while absorbing a
// gateway event. Callers use it to release deliveries parked on the id.
type LearnedPair struct {
	OpaqueID string
	Phone    string
}

// LearnFromContactsEvent absorbs a contacts.upsert/update webhook: the
// entries refresh the local directory mirror, and any entry that links an
// opaque id to a phone-addressed id becomes a high-trust mapping outright.
// Returns the pairs that were newly established.
func (r *Resolver) LearnFromContactsEvent(ctx context.Context, accountID string, entries []models.GatewayContactData) []LearnedPair {
	var contacts []models.GatewayContact
	var learned []LearnedPair
	for i := range entries {
		e := &entries[i]
		jid := e.ContactJID()
		if jid == "" {
			continue
		}
		contacts = append(contacts, models.GatewayContact{
			JID:         jid,
			DisplayName: e.DisplayName(),
			AvatarURL:   e.AvatarURL,
		})

		opaque, phone := linkedPair(e)
		if opaque == "" || phone == "" {
			continue
		}
		saved, err := r.store.SaveIdentityMapping(ctx, &models.IdentityMapping{
			AccountID:   accountID,
			OpaqueID:    opaque,
			Phone:       phone,
			Source:      models.SourceContactsEvent,
			DisplayName: e.DisplayName(),
		})
		if err != nil {
			r.logger.WithError(err).WithField("opaque_id", opaque).Warn("Failed to save contacts-event mapping")
			continue
		}
		if saved {
			r.cache.SetDefault(cacheKey(accountID, opaque), phone)
			learned = append(learned, LearnedPair{OpaqueID: opaque, Phone: phone})
			r.logger.WithFields(logrus.Fields{
				"account_id": accountID,
				"opaque_id":  opaque,
			}).Info("Identity learned from contacts event")
		}
	}

	if len(contacts) > 0 {
		if err := r.store.UpsertGatewayContacts(ctx, accountID, contacts); err != nil {
			r.logger.WithError(err).Warn("Failed to mirror contacts event")
		}
	}
	return learned
}

// LearnFromSentMessage absorbs an outbound messages.upsert event. A
// message leaving for a phone-addressed chat pins that phone to the opaque
// directory entry sharing the contact's avatar, or failing that to the one
// opaque entry carrying the same push name.
func (r *Resolver) LearnFromSentMessage(ctx context.Context, accountID, instance string, data *models.GatewayMessageData) {
	if !data.Key.FromMe || !models.IsPhoneJID(data.Key.RemoteJID) {
		return
	}
	phone := models.PhoneFromJID(data.Key.RemoteJID)

	contacts, err := r.gw.FetchContacts(ctx, instance)
	if err != nil || len(contacts) == 0 {
		return
	}

	var sent *models.GatewayContact
	for i := range contacts {
		if contacts[i].JID == data.Key.RemoteJID {
			sent = &contacts[i]
			break
		}
	}
	if sent == nil {
		return
	}

	name := sent.DisplayName
	if name == "" {
		name = data.PushName
	}

	if sent.AvatarURL != "" {
		for _, c := range contacts {
			if models.IsOpaqueJID(c.JID) && models.SameAvatar(c.AvatarURL, sent.AvatarURL) {
				display := name
				if display == "" {
					display = c.DisplayName
				}
				r.saveLearned(ctx, accountID, c.JID, phone, display, models.SourceSentAvatar)
				return
			}
		}
	}

	if name == "" {
		return
	}
	match := ""
	for _, c := range contacts {
		if models.IsOpaqueJID(c.JID) && c.DisplayName == name {
			if match != "" {
				return // ambiguous name
			}
			match = c.JID
		}
	}
	if match == "" {
		return
	}
	if _, found := r.cache.Get(cacheKey(accountID, match)); found {
		return
	}
	r.saveLearned(ctx, accountID, match, phone, name, models.SourceSentName)
}

func (r *Resolver) saveLearned(ctx context.Context, accountID, opaqueID, phone, displayName string, source models.ResolutionSource) {
	saved, err := r.store.SaveIdentityMapping(ctx, &models.IdentityMapping{
		AccountID:   accountID,
		OpaqueID:    opaqueID,
		Phone:       phone,
		Source:      source,
		DisplayName: displayName,
	})
	if err != nil {
		r.logger.WithError(err).WithField("opaque_id", opaqueID).Warn("Failed to save sent-message mapping")
		return
	}
	if saved {
		r.cache.SetDefault(cacheKey(accountID, opaqueID), phone)
		r.logger.WithFields(logrus.Fields{
			"account_id": accountID,
			"opaque_id":  opaqueID,
			"source":     source,
		}).Info("Identity learned from sent message")
	}
}

func linkedPair(e *models.GatewayContactData) (opaque, phone string) {
	ids := []string{e.ID, e.RemoteJID, e.LID}
	for _, id := range ids {
		switch {
		case models.IsOpaqueJID(id):
			opaque = id
		case models.IsPhoneJID(id):
			phone = models.PhoneFromJID(id)
		}
	}
	return opaque, phone
}
