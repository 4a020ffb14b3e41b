package models

import "gorm.io/gorm"

type Post struct {
	gorm.Model
	UserID   uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	Content  string    `gorm:"column:content;size:500;not null" json:"content"`
	User     *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Comments []Comment `gorm:"foreignKey:PostID" json:"comments,omitempty"`
	Likes    []Like    `gorm:"foreignKey:PostID" json:"likes,omitempty"`
}

type Comment struct {
	gorm.Model
	UserID  uint   `gorm:"column:user_id;not null" json:"user_id"`
	PostID  uint   `gorm:"column:post_id;not null;index" json:"post_id"`
	Content string `gorm:"column:content;size:200;not null" json:"content"`
	User    *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// Like is unique per (user, post): the composite index is the source of
// truth for the at-most-one-like invariant, the handler pre-check only
// decides the toggle direction.
type Like struct {
	gorm.Model
	UserID uint  `gorm:"column:user_id;not null;uniqueIndex:idx_likes_user_post" json:"user_id"`
	PostID uint  `gorm:"column:post_id;not null;uniqueIndex:idx_likes_user_post" json:"post_id"`
	User   *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// FeedPosts returns the newest posts authored by the user or by anyone
// the user follows.
func FeedPosts(db *gorm.DB, userID uint, limit int) ([]Post, error) {
	var posts []Post
	followed := db.Model(&Follow{}).
		Select("followed_id").
		Where("follower_id = ?", userID)
	err := db.Preload("User").Preload("Likes").Preload("Comments").
		Where("user_id = ? OR user_id IN (?)", userID, followed).
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// RecentPosts returns the newest posts across all users.
func RecentPosts(db *gorm.DB, limit int) ([]Post, error) {
	var posts []Post
	err := db.Preload("User").Preload("Likes").Preload("Comments").
		Order("created_at DESC").
		Limit(limit).
		Find(&posts).Error
	return posts, err
}

// LikeCount returns the number of likes on a post.
func LikeCount(db *gorm.DB, postID uint) int64 {
	var count int64
	db.Model(&Like{}).Where("post_id = ?", postID).Count(&count)
	return count
}

// IsLikedBy reports whether the user currently likes the post.
func IsLikedBy(db *gorm.DB, userID, postID uint) bool {
	var count int64
	db.Model(&Like{}).
		Where("user_id = ? AND post_id = ?", userID, postID).
		Count(&count)
	return count > 0
}
