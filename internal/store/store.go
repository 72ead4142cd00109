package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrUsernameTaken is returned when a profile with the username already exists.
	ErrUsernameTaken = errors.New("username is already taken")
	// ErrReplyTargetMissing is returned when a message replies to an id that
	// does not exist.
	ErrReplyTargetMissing = errors.New("replied-to message does not exist")
)

// Open opens the SQLite database at path and migrates the chat schema.
// SQLite serializes writers, so the pool is limited to one connection.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the profiles, messages, and notifications tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Profile{}, &Message{}, &Notification{}); err != nil {
		return fmt.Errorf("failed to migrate chat schema: %w", err)
	}
	return nil
}

// Store provides access to chat persistence.
type Store struct {
	db *gorm.DB
}

// New creates a Store on an opened database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateProfile saves a new profile for an identity provider user.
func (s *Store) CreateProfile(ctx context.Context, id, username string) (Profile, error) {
	profile := Profile{ID: id, Username: username}
	if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Profile{}, ErrUsernameTaken
		}
		return Profile{}, fmt.Errorf("failed to create profile: %w", err)
	}
	return profile, nil
}

// ProfileByID retrieves a profile by its user id.
func (s *Store) ProfileByID(ctx context.Context, id string) (Profile, error) {
	return s.findProfile(ctx, "id = ?", id)
}

// ProfileByUsername retrieves a profile by its exact username.
func (s *Store) ProfileByUsername(ctx context.Context, username string) (Profile, error) {
	return s.findProfile(ctx, "username = ?", username)
}

func (s *Store) findProfile(ctx context.Context, query string, arg any) (Profile, error) {
	var profile Profile
	if err := s.db.WithContext(ctx).First(&profile, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("failed to find profile: %w", err)
	}
	return profile, nil
}

// ProfilesByUsernames returns the profiles matching any of the usernames.
// Unknown usernames are not an error.
func (s *Store) ProfilesByUsernames(ctx context.Context, usernames []string) ([]Profile, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	var profiles []Profile
	if err := s.db.WithContext(ctx).Where("username IN ?", usernames).Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("failed to find profiles: %w", err)
	}
	return profiles, nil
}

// InsertMessage saves a message and returns it with its generated id,
// timestamp, and author profile. The reply target, when given, must exist.
func (s *Store) InsertMessage(ctx context.Context, authorID, content string, replyTo *int64) (Message, error) {
	var inserted Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if replyTo != nil {
			var count int64
			if err := tx.Model(&Message{}).Where("id = ?", *replyTo).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check reply target: %w", err)
			}
			if count == 0 {
				return ErrReplyTargetMissing
			}
		}

		msg := Message{AuthorID: authorID, Content: content, ReplyingToID: replyTo}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}
		if err := tx.Preload("Author").First(&inserted, "id = ?", msg.ID).Error; err != nil {
			return fmt.Errorf("failed to reload message: %w", err)
		}
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return inserted, nil
}

// FetchRange returns every message in ascending creation order with its
// author preloaded.
func (s *Store) FetchRange(ctx context.Context) ([]Message, error) {
	var messages []Message
	err := s.db.WithContext(ctx).
		Preload("Author").
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return messages, nil
}

// FetchByIDs returns reply previews for the given message ids. Ids that do
// not resolve to a live message are omitted.
func (s *Store) FetchByIDs(ctx context.Context, ids []int64) ([]ReplyRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var messages []Message
	if err := s.db.WithContext(ctx).Preload("Author").Where("id IN ?", ids).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages by id: %w", err)
	}

	refs := make([]ReplyRef, 0, len(messages))
	for _, m := range messages {
		ref := ReplyRef{ID: m.ID, Content: m.Content}
		if m.Author != nil {
			username := m.Author.Username
			ref.Username = &username
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// InsertNotifications saves a batch of unread notifications.
func (s *Store) InsertNotifications(ctx context.Context, notifications []Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	for i := range notifications {
		notifications[i].IsRead = false
	}
	if err := s.db.WithContext(ctx).Create(&notifications).Error; err != nil {
		return fmt.Errorf("failed to insert notifications: %w", err)
	}
	return nil
}

// UnreadNotifications lists the unread notifications for a user, oldest first.
func (s *Store) UnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	var notifications []Notification
	err := s.db.WithContext(ctx).
		Where("recipient_user_id = ? AND is_read = ?", userID, false).
		Order("id ASC").
		Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// DeleteMessage soft-deletes a message.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	result := s.db.WithContext(ctx).Delete(&Message{}, "id = ?", id)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProfile removes a profile. Messages keep their author id.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&Profile{}, "id = ?", id)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
