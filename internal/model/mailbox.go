package model

// MailboxPermissions lists what the owner may change on a mailbox.
type MailboxPermissions struct {
	CanManageFilters  bool `json:"can_manage_filters"`
	CanManageAliases  bool `json:"can_manage_aliases"`
	CanManageSecurity bool `json:"can_manage_security"`
	CanRestoreEmails  bool `json:"can_restore_emails"`
	CanReadQuota      bool `json:"can_read_quota"`
}

// SenderRestrictions holds the blocked and authorized sender lists
// configured for a mailbox.
type SenderRestrictions struct {
	Blocked    []string `json:"blocked,omitempty"`
	Authorized []string `json:"authorized,omitempty"`
}

// Mailbox is one mailbox belonging to a user, keyed by (MailboxID, UserID).
//
// UnseenCount, SpamFilterEnabled and SenderRestrictions are cache-only:
// refreshing a mailbox from the remote source never overwrites them.
type Mailbox struct {
	MailboxID   string             `json:"mailbox_id"`
	UserID      string             `json:"user_id"`
	Email       string             `json:"email"`
	Aliases     []string           `json:"aliases,omitempty"`
	QuotaUsed   int64              `json:"quota_used"`
	QuotaMax    int64              `json:"quota_max"`
	Permissions MailboxPermissions `json:"permissions"`

	UnseenCount        int                `json:"unseen_count"`
	SpamFilterEnabled  bool               `json:"spam_filter_enabled"`
	SenderRestrictions SenderRestrictions `json:"sender_restrictions"`
}

// ObjectID returns the composite identifier of the mailbox.
func (m Mailbox) ObjectID() string {
	return m.MailboxID + "_" + m.UserID
}

// QuotaRatio returns the fraction of quota in use, or 0 when unknown.
func (m Mailbox) QuotaRatio() float64 {
	if m.QuotaMax <= 0 {
		return 0
	}
	return float64(m.QuotaUsed) / float64(m.QuotaMax)
}
