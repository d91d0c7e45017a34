package model

import "time"

// GroupItemType selects which part of a message a group item is tested against.
type GroupItemType string

// Group item type constants.
const (
	GroupItemFrom    GroupItemType = "FROM"
	GroupItemSubject GroupItemType = "SUBJECT"
	GroupItemBody    GroupItemType = "BODY"
)

// Group is a named set of literal or regex patterns, bound to at most one rule.
type Group struct {
	CreatedAt time.Time
	RuleID    *string
	ID        string
	UserID    string
	Name      string
	Items     []GroupItem
}

// GroupItem is one pattern within a group.
type GroupItem struct {
	ID      string
	GroupID string
	Type    GroupItemType
	Value   string
}
