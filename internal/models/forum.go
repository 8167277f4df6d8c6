package models

import "time"

// Author identifies who wrote a thread or comment.
type Author struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
	IsAnonymous bool   `json:"isAnonymous"`
}

// ForumThread is a discussion thread with embedded comments.
type ForumThread struct {
	Record
	Title        string         `json:"title"`
	Content      string         `json:"content"`
	Author       Author         `json:"author"`
	Tags         []string       `json:"tags"`
	Comments     []ForumComment `json:"comments"`
	CommentCount int            `json:"commentCount"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ForumComment is a reply within a thread.
type ForumComment struct {
	Record
	ThreadID  string    `json:"threadId"`
	Content   string    `json:"content"`
	Author    Author    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}
