package models

import (
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username     string `gorm:"column:username;size:20;uniqueIndex;not null" json:"username"`
	Email        string `gorm:"column:email;size:255;uniqueIndex;not null" json:"email"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null" json:"-"`
	Bio          string `gorm:"column:bio;type:text" json:"bio,omitempty"`

	Posts     []Post    `gorm:"foreignKey:UserID" json:"posts,omitempty"`
	Comments  []Comment `gorm:"foreignKey:UserID" json:"-"`
	Likes     []Like    `gorm:"foreignKey:UserID" json:"-"`
	Following []Follow  `gorm:"foreignKey:FollowerID" json:"-"`
	Followers []Follow  `gorm:"foreignKey:FollowedID" json:"-"`
}

// SetPassword hashes the plaintext password with bcrypt and stores the hash.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword reports whether the plaintext password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// Follow is a directed edge: follower's feed includes followed's posts.
// The composite unique index makes a raced duplicate follow a
// storage-level conflict rather than a duplicate edge.
type Follow struct {
	gorm.Model
	FollowerID uint  `gorm:"column:follower_id;not null;uniqueIndex:idx_follows_follower_followed" json:"follower_id"`
	FollowedID uint  `gorm:"column:followed_id;not null;uniqueIndex:idx_follows_follower_followed" json:"followed_id"`
	Follower   *User `gorm:"foreignKey:FollowerID" json:"follower,omitempty"`
	Followed   *User `gorm:"foreignKey:FollowedID" json:"followed,omitempty"`
}

// IsFollowing reports whether follower currently follows followed.
func IsFollowing(db *gorm.DB, followerID, followedID uint) bool {
	var count int64
	db.Model(&Follow{}).
		Where("follower_id = ? AND followed_id = ?", followerID, followedID).
		Count(&count)
	return count > 0
}

// FollowedIDs returns the ids of every user the given user follows.
func FollowedIDs(db *gorm.DB, userID uint) ([]uint, error) {
	var ids []uint
	err := db.Model(&Follow{}).
		Where("follower_id = ?", userID).
		Pluck("followed_id", &ids).Error
	return ids, err
}

// SuggestedUsers returns up to limit users the given user does not
// already follow, excluding the user themselves.
func SuggestedUsers(db *gorm.DB, userID uint, limit int) ([]User, error) {
	var users []User
	followed := db.Model(&Follow{}).
		Select("followed_id").
		Where("follower_id = ?", userID)
	err := db.Where("id <> ?", userID).
		Where("id NOT IN (?)", followed).
		Limit(limit).
		Find(&users).Error
	return users, err
}
