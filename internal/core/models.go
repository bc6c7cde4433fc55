package core

import (
	"time"
)

// Provider kinds supported by the vendor gateway.
const (
	ProviderOfficial = "official"
	ProviderFonnte   = "fonnte"
	ProviderWablas   = "wablas"
	ProviderGeneric  = "generic"
)

// Staff roles. Elevated roles bypass session ownership.
const (
	RoleSales      = "sales"
	RoleManager    = "manager"
	RoleSuperAdmin = "super-admin"
)

func ElevatedRole(role string) bool {
	return role == RoleManager || role == RoleSuperAdmin
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Account struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	PhoneNumber      string     `json:"phone_number"`
	Provider         string     `json:"provider"`
	APIToken         string     `json:"-"`
	APIKey           string     `json:"-"`
	APIEndpoint      string     `json:"api_endpoint,omitempty"`
	IsVerified       bool       `json:"is_verified"`
	Status           string     `json:"status"`
	IsTrial          bool       `json:"is_trial"`
	TrialEndsAt      *time.Time `json:"trial_ends_at,omitempty"`
	SubscriptionPlan string     `json:"subscription_plan"`
}

// IsActive reports whether the account may send: status must be active,
// and a trial account must still be inside its trial window.
func (a Account) IsActive() bool {
	if a.Status != "active" {
		return false
	}
	if a.IsTrial {
		return a.TrialEndsAt != nil && a.TrialEndsAt.After(time.Now())
	}
	return true
}

// TrialDaysRemaining returns 0 for non-trial accounts and for expired trials.
func (a Account) TrialDaysRemaining() int {
	if !a.IsTrial || a.TrialEndsAt == nil {
		return 0
	}
	d := int(time.Until(*a.TrialEndsAt).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// Agent binds a user to an account for chat routing.
type Agent struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	AccountID      string     `json:"whatsapp_account_id"`
	IsAvailable    bool       `json:"is_available"`
	LastAssignedAt *time.Time `json:"last_assigned_at,omitempty"`
}

type Customer struct {
	ID         string  `json:"id"`
	Phone      string  `json:"phone"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	LeadSource string  `json:"lead_source"`
	AssignedTo *string `json:"assigned_to,omitempty"`
}

type Session struct {
	ID             string    `json:"id"`
	AccountID      string    `json:"whatsapp_account_id"`
	CustomerID     string    `json:"customer_id"`
	AssignedUserID *string   `json:"assigned_user_id,omitempty"`
	Status         string    `json:"status"`
	LastMessageAt  time.Time `json:"last_message_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// SessionSummary is a session joined with its customer, for inbox listings
// and fan-out payloads.
type SessionSummary struct {
	Session
	CustomerPhone string `json:"customer_phone"`
	CustomerName  string `json:"customer_name"`
	UnreadCount   int    `json:"unread_count"`
}

type Message struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"chat_session_id"`
	VendorMessageID *string    `json:"vendor_message_id,omitempty"`
	SenderType      string     `json:"sender_type"`
	SenderID        *string    `json:"sender_id,omitempty"`
	Body            string     `json:"message_body"`
	Type            string     `json:"message_type"`
	AttachmentPath  *string    `json:"attachment_path,omitempty"`
	ReadAt          *time.Time `json:"read_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type Campaign struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"whatsapp_account_id"`
	Name            string     `json:"name"`
	MessageTemplate string     `json:"message_template"`
	TemplateName    *string    `json:"template_name,omitempty"`
	Status          string     `json:"status"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	TotalRecipients int        `json:"total_recipients"`
	SentCount       int        `json:"sent_count"`
	FailedCount     int        `json:"failed_count"`
}

type CampaignLog struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"whatsapp_campaign_id"`
	CustomerID   string     `json:"customer_id"`
	PhoneNumber  string     `json:"phone_number"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
}

type Template struct {
	ID        string `json:"id"`
	AccountID string `json:"whatsapp_account_id"`
	Name      string `json:"name"`
	Language  string `json:"language"`
	Category  string `json:"category"`
	IsActive  bool   `json:"is_active"`
}

type ExternalApp struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	PhoneNumber    string         `json:"phone_number"`
	AppKey         string         `json:"app_key"`
	AppSecret      string         `json:"-"`
	WebhookURL     *string        `json:"webhook_url,omitempty"`
	WidgetSettings map[string]any `json:"widget_settings,omitempty"`
	IsActive       bool           `json:"is_active"`
}
