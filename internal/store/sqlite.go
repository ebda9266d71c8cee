// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides inbox persistence with automatic schema creation and uniqueness constraints

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// The unique indexes on customers, conversations and messages are what make
// find-or-create and message ingestion safe under concurrent delivery.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS organizations (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS channels (
			id                TEXT PRIMARY KEY,
			org_id            TEXT NOT NULL REFERENCES organizations(id),
			platform          TEXT NOT NULL,
			provider_identity TEXT NOT NULL,
			display_name      TEXT NOT NULL,
			credentials       TEXT NOT NULL,
			active            INTEGER NOT NULL DEFAULT 1,
			created_at        TEXT NOT NULL,

			CHECK (platform IN ('whatsapp', 'instagram', 'email'))
		);

		CREATE INDEX IF NOT EXISTS idx_channels_provider
			ON channels(platform, provider_identity);
		CREATE INDEX IF NOT EXISTS idx_channels_org ON channels(org_id);

		CREATE TABLE IF NOT EXISTS customers (
			id               TEXT PRIMARY KEY,
			org_id           TEXT NOT NULL REFERENCES organizations(id),
			name             TEXT NOT NULL,
			phone            TEXT,
			email            TEXT,
			instagram_handle TEXT,
			created_at       TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_org_phone
			ON customers(org_id, phone) WHERE phone IS NOT NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_org_email
			ON customers(org_id, email) WHERE email IS NOT NULL;
		CREATE UNIQUE INDEX IF NOT EXISTS idx_customers_org_instagram
			ON customers(org_id, instagram_handle) WHERE instagram_handle IS NOT NULL;

		CREATE TABLE IF NOT EXISTS conversations (
			id                 TEXT PRIMARY KEY,
			org_id             TEXT NOT NULL REFERENCES organizations(id),
			customer_id        TEXT NOT NULL REFERENCES customers(id),
			channel_id         TEXT NOT NULL REFERENCES channels(id),
			external_thread_id TEXT,
			status             TEXT NOT NULL DEFAULT 'open',
			unread_count       INTEGER NOT NULL DEFAULT 0,
			last_message_at    TEXT NOT NULL,
			created_at         TEXT NOT NULL,

			CHECK (status IN ('open', 'closed')),
			CHECK (unread_count >= 0)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_thread
			ON conversations(channel_id, external_thread_id)
			WHERE external_thread_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_conversations_org_recent
			ON conversations(org_id, last_message_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_type     TEXT NOT NULL,
			content         TEXT NOT NULL,
			external_id     TEXT NOT NULL,
			attachments     TEXT,
			created_at      TEXT NOT NULL,

			CHECK (sender_type IN ('customer', 'agent', 'system'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_external
			ON messages(conversation_id, external_id);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS profiles (
			id           TEXT PRIMARY KEY,
			org_id       TEXT NOT NULL REFERENCES organizations(id),
			display_name TEXT NOT NULL,
			push_token   TEXT,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_profiles_org ON profiles(org_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullable converts an empty string to NULL so partial unique indexes
// never collide on absent identity keys.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func fromNull(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateOrganization inserts a new organization.
func (s *SQLiteStore) CreateOrganization(ctx context.Context, org *Organization) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		org.ID, org.Name, formatTime(org.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting organization: %w", err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	var org Organization
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying organization: %w", err)
	}

	org.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &org, nil
}

// CreateChannel inserts a new channel.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *Channel) error {
	creds := ch.Credentials
	if creds == nil {
		creds = json.RawMessage("{}")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channels (id, org_id, platform, provider_identity, display_name, credentials, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ch.ID, ch.OrgID, ch.Platform, ch.ProviderIdentity, ch.DisplayName,
		string(creds), boolToInt(ch.Active), formatTime(ch.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting channel: %w", err)
	}

	s.logger.Debug("created channel", "id", ch.ID, "platform", ch.Platform)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

const channelColumns = `id, org_id, platform, provider_identity, display_name, credentials, active, created_at`

func scanChannel(row interface{ Scan(...any) error }) (*Channel, error) {
	var ch Channel
	var creds, createdAt string
	var active int

	err := row.Scan(&ch.ID, &ch.OrgID, &ch.Platform, &ch.ProviderIdentity,
		&ch.DisplayName, &creds, &active, &createdAt)
	if err != nil {
		return nil, err
	}

	ch.Credentials = json.RawMessage(creds)
	ch.Active = active != 0
	ch.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &ch, nil
}

// GetChannel retrieves a channel by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE id = ?`, id)
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying channel: %w", err)
	}
	return ch, nil
}

// GetActiveChannel retrieves the active channel for a platform and provider
// identity. This is the lookup adapters use to decide whether an inbound
// event belongs to a configured endpoint.
// Returns ErrNotFound if no active channel matches.
func (s *SQLiteStore) GetActiveChannel(ctx context.Context, platform, providerIdentity string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE platform = ? AND provider_identity = ? AND active = 1
		ORDER BY created_at DESC LIMIT 1
	`, platform, providerIdentity)
	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying active channel: %w", err)
	}
	return ch, nil
}

// ListChannels returns all channels for an organization, active or not.
func (s *SQLiteStore) ListChannels(ctx context.Context, orgID string) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE org_id = ? ORDER BY created_at`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// ListActiveChannelsByPlatform returns every active channel for a platform
// across all organizations. The email poller uses this to schedule cycles.
func (s *SQLiteStore) ListActiveChannelsByPlatform(ctx context.Context, platform string) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+channelColumns+` FROM channels
		WHERE platform = ? AND active = 1 ORDER BY created_at
	`, platform)
	if err != nil {
		return nil, fmt.Errorf("querying active channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// DeactivateChannel marks a channel inactive. Channels are never deleted so
// conversation history stays attached.
// Returns ErrNotFound if the channel doesn't exist.
func (s *SQLiteStore) DeactivateChannel(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE channels SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating channel: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

const customerColumns = `id, org_id, name, phone, email, instagram_handle, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (*Customer, error) {
	var c Customer
	var phone, email, handle sql.NullString
	var createdAt string

	err := row.Scan(&c.ID, &c.OrgID, &c.Name, &phone, &email, &handle, &createdAt)
	if err != nil {
		return nil, err
	}

	c.Phone = fromNull(phone)
	c.Email = fromNull(email)
	c.InstagramHandle = fromNull(handle)
	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// GetCustomer retrieves a customer by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ?`, id)
	c, err := scanCustomer(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer: %w", err)
	}
	return c, nil
}

// FindCustomerByIdentity probes identity keys in fixed priority order
// (phone, then email, then instagram handle), each scoped to the
// organization, and returns the first match.
// Returns ErrNotFound if no key matches.
func (s *SQLiteStore) FindCustomerByIdentity(ctx context.Context, orgID string, identity Identity) (*Customer, error) {
	probes := []struct {
		column string
		value  string
	}{
		{"phone", identity.Phone},
		{"email", identity.Email},
		{"instagram_handle", identity.InstagramHandle},
	}

	for _, probe := range probes {
		if probe.value == "" {
			continue
		}
		row := s.db.QueryRowContext(ctx,
			`SELECT `+customerColumns+` FROM customers WHERE org_id = ? AND `+probe.column+` = ?`,
			orgID, probe.value)
		c, err := scanCustomer(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("querying customer by %s: %w", probe.column, err)
		}
		return c, nil
	}

	return nil, ErrNotFound
}

// CreateCustomer inserts a new customer.
// Returns ErrDuplicateCustomer if one of the identity keys already exists
// in the organization, so callers can re-resolve after losing a race.
func (s *SQLiteStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, org_id, name, phone, email, instagram_handle, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		customer.ID, customer.OrgID, customer.Name,
		nullable(customer.Phone), nullable(customer.Email), nullable(customer.InstagramHandle),
		formatTime(customer.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateCustomer
		}
		return fmt.Errorf("inserting customer: %w", err)
	}

	s.logger.Debug("created customer", "id", customer.ID, "org_id", customer.OrgID)
	return nil
}

const conversationColumns = `id, org_id, customer_id, channel_id, external_thread_id, status, unread_count, last_message_at, created_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var externalThreadID sql.NullString
	var lastMessageAt, createdAt string

	err := row.Scan(&c.ID, &c.OrgID, &c.CustomerID, &c.ChannelID, &externalThreadID,
		&c.Status, &c.UnreadCount, &lastMessageAt, &createdAt)
	if err != nil {
		return nil, err
	}
	c.ExternalThreadID = fromNull(externalThreadID)

	c.LastMessageAt, err = parseTime(lastMessageAt)
	if err != nil {
		return nil, fmt.Errorf("parsing last_message_at: %w", err)
	}
	c.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &c, nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return c, nil
}

// GetConversationByThreadKey retrieves a conversation by its channel and
// external thread id. This uses the idx_conversations_thread unique index.
// Returns ErrNotFound if no conversation exists for the thread.
func (s *SQLiteStore) GetConversationByThreadKey(ctx context.Context, channelID, externalThreadID string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE channel_id = ? AND external_thread_id = ?
	`, channelID, externalThreadID)
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation by thread key: %w", err)
	}
	return c, nil
}

// CreateConversation inserts a new conversation.
// Returns ErrDuplicateConversation if the (channel, thread id) pair already
// exists, so callers can re-resolve after losing a race. An empty thread id
// is stored as NULL, which the unique index ignores, so conversations
// without a platform thread id never collide with each other.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, org_id, customer_id, channel_id, external_thread_id, status, unread_count, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID, conv.OrgID, conv.CustomerID, conv.ChannelID, nullable(conv.ExternalThreadID),
		conv.Status, conv.UnreadCount, formatTime(conv.LastMessageAt), formatTime(conv.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "channel_id", conv.ChannelID)
	return nil
}

// ListConversations returns an organization's conversations, most recent
// message first.
func (s *SQLiteStore) ListConversations(ctx context.Context, orgID string, limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE org_id = ? ORDER BY last_message_at DESC LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// MarkConversationRead resets the unread counter.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("marking conversation read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendInbound appends a customer message and updates the conversation
// aggregate in one transaction: unread_count += 1, last_message_at set to
// the arrival time, status forced back to open.
//
// The insert is ON CONFLICT DO NOTHING on (conversation_id, external_id):
// a redelivered provider event inserts nothing and leaves the aggregate
// untouched. Returns inserted=false in that case.
func (s *SQLiteStore) AppendInbound(ctx context.Context, msg *Message) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return false, err
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content, external_id, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, external_id) DO NOTHING
	`,
		msg.ID, msg.ConversationID, msg.SenderType, msg.Content, msg.ExternalID,
		attachments, formatTime(msg.CreatedAt),
	)
	if err != nil {
		return false, fmt.Errorf("inserting message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		// Duplicate delivery; nothing to update
		s.logger.Debug("duplicate message ignored",
			"conversation_id", msg.ConversationID,
			"external_id", msg.ExternalID)
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations
		SET unread_count = unread_count + 1, last_message_at = ?, status = 'open'
		WHERE id = ?
	`, formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return false, fmt.Errorf("updating conversation aggregate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("appended inbound message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID)
	return true, nil
}

// AppendOutbound appends an agent (or system) message and bumps
// last_message_at without touching the unread counter.
func (s *SQLiteStore) AppendOutbound(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	attachments, err := marshalAttachments(msg.Attachments)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_type, content, external_id, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (conversation_id, external_id) DO NOTHING
	`,
		msg.ID, msg.ConversationID, msg.SenderType, msg.Content, msg.ExternalID,
		attachments, formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, formatTime(msg.CreatedAt), msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating conversation aggregate: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}
	return nil
}

func marshalAttachments(attachments []Attachment) (any, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(attachments)
	if err != nil {
		return nil, fmt.Errorf("marshaling attachments: %w", err)
	}
	return string(b), nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_type, content, external_id, attachments, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, id
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var attachments sql.NullString
		var createdAt string

		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderType, &m.Content,
			&m.ExternalID, &attachments, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if attachments.Valid && attachments.String != "" {
			if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshaling attachments: %w", err)
			}
		}
		m.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// CreateProfile inserts a new profile.
func (s *SQLiteStore) CreateProfile(ctx context.Context, profile *Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, org_id, display_name, push_token, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		profile.ID, profile.OrgID, profile.DisplayName,
		nullable(profile.PushToken), formatTime(profile.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting profile: %w", err)
	}
	return nil
}

// ListPushProfiles returns the organization's profiles that carry a push
// token, the fanout recipients for inbound notifications.
func (s *SQLiteStore) ListPushProfiles(ctx context.Context, orgID string) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, display_name, push_token, created_at
		FROM profiles
		WHERE org_id = ? AND push_token IS NOT NULL AND push_token != ''
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying push profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		var p Profile
		var token sql.NullString
		var createdAt string

		if err := rows.Scan(&p.ID, &p.OrgID, &p.DisplayName, &token, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		p.PushToken = fromNull(token)
		p.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		profiles = append(profiles, &p)
	}
	return profiles, rows.Err()
}
